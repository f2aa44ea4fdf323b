package probe

import "strings"

// expectUp panics if r is not an Up result, mirroring the original
// implementation's CheckResult::expect() test helper.
func expectUp(r Result) {
	if r.Type != Up {
		panic("expected UP result, got " + string(r.Type) + ": " + r.Info)
	}
}

func expectError(r Result) {
	if r.Type != Error {
		panic("expected ERROR result, got " + string(r.Type) + ": " + r.Info)
	}
}

func expectErrorContains(r Result, substr string) {
	expectError(r)
	if !strings.Contains(r.Info, substr) {
		panic("expected info to contain " + substr + ", got: " + r.Info)
	}
}
