package probe

import "testing"

func TestJoinInfo_SkipsEmpty(t *testing.T) {
	got := joinInfo("", "a", "", "b")
	want := "a; b"
	if got != want {
		t.Errorf("joinInfo: got %q, want %q", got, want)
	}
}

func TestJoinInfo_AllEmpty(t *testing.T) {
	if got := joinInfo("", ""); got != "" {
		t.Errorf("joinInfo: got %q, want empty string", got)
	}
}

func TestResultString(t *testing.T) {
	r := up("all good")
	expectUp(r)
	if r.String() == "" {
		t.Error("String() should not be empty")
	}
}
