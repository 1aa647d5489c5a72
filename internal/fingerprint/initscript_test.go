package fingerprint

import (
	"strings"
	"testing"
)

func TestBuildInitScript(t *testing.T) {
	fp := Fingerprint{
		UserAgent: "Mozilla/5.0 test",
		Navigator: map[string]any{
			"platform":            "Win32",
			"hardwareConcurrency": 8,
		},
		Screen: Screen{Width: 1920, Height: 1080},
	}
	script := BuildInitScript(fp)
	if script == "" {
		t.Fatalf("expected a script")
	}
	for _, want := range []string{
		"webdriver",
		"window.chrome",
		`"platform"`,
		"1920",
		"1080",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
}

func TestBuildInitScriptEmptyFingerprint(t *testing.T) {
	// Even a bare fingerprint gets the webdriver and chrome overrides.
	script := BuildInitScript(Fingerprint{})
	if !strings.Contains(script, "webdriver") {
		t.Fatalf("webdriver override missing:\n%s", script)
	}
}
