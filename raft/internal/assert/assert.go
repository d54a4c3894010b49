// Package assert holds the core's invariant checks. These panic only
// on a violated internal invariant (programmer error); they must never
// fire on untrusted peer input, which the core handles conservatively
// instead (see spec.md §7).
package assert

import "fmt"

// Enabled gates whether Assert panics. Driver binaries may turn it off
// in production builds that trust the core has been property-tested.
var Enabled = true

// That panics with a formatted message when cond is false.
func That(cond bool, format string, a ...interface{}) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, a...))
	}
}
