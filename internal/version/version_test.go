package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldTime := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldTime }()

	Version, GitSHA, BuildTime = "v0.3.1", "abc1234", "2026-01-02T03:04:05Z"
	want := "lightpos v0.3.1 (abc1234, built 2026-01-02T03:04:05Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Current(); got != (Info{Version: "v0.3.1", GitSHA: "abc1234", BuildTime: "2026-01-02T03:04:05Z"}) {
		t.Errorf("Current() = %+v", got)
	}
}
