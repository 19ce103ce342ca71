//go:build !race

package lazy

import "testing"

func skipRace(tb testing.TB) {
	tb.Helper()
}
