//go:build race

package transport

import "testing"

// skipRace skips tests that exercise the lfq ring or the atomix-linked
// list concurrently. The race detector cannot see their cross-variable
// acquire/release ordering and reports false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: queues use cross-variable memory ordering")
}
