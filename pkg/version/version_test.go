package version

import (
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	if !strings.HasPrefix(info, "voiceturn version ") {
		t.Errorf("unexpected prefix: %q", info)
	}
	for _, want := range []string{Version, GitCommit, BuildTime, "go:"} {
		if !strings.Contains(info, want) {
			t.Errorf("version info %q missing %q", info, want)
		}
	}
}
