package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, sha, at string) { Version, GitSHA, BuildTime = v, sha, at }(Version, GitSHA, BuildTime)

	Version, GitSHA, BuildTime = "v1.2.0", "abc1234", "2024-06-01T03:00:00Z"
	want := "zeus2be v1.2.0 (commit abc1234, built 2024-06-01T03:00:00Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
