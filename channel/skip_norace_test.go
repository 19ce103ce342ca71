//go:build !race

package channel

import "testing"

func skipRace(tb testing.TB) {
	tb.Helper()
}
