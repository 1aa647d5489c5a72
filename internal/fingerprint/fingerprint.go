package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ArtifactName is the per-profile launch-configuration file. It is written
// once by Resolve and read unchanged on every later worker start so the
// profile's observable fingerprint stays stable across restarts.
const ArtifactName = "fingerprint.json"

// Screen holds the spoofed display dimensions.
type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is the persisted launch configuration for one profile.
type Fingerprint struct {
	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers"`
	Navigator map[string]any    `json:"navigator"`
	Screen    Screen            `json:"screen"`
	Timezone  string            `json:"timezone,omitempty"`
	Locale    string            `json:"locale,omitempty"`
}

// wellFormed is the minimal bar for reusing a persisted artifact.
func (f Fingerprint) wellFormed() bool { return f.UserAgent != "" }

// Resolve loads the profile's persisted fingerprint or generates and persists
// a new one. Generation enriches best-effort: timezone lookup through the
// proxy and persistence may fail without failing the resolve; only the caller
// decides whether a proxy parse error aborts the launch.
func Resolve(ctx context.Context, dir string, proxy *Proxy, forceRegen bool, log *slog.Logger) (Fingerprint, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Fingerprint{}, err
	}
	path := filepath.Join(dir, ArtifactName)

	if !forceRegen {
		if fp, ok := loadArtifact(path); ok {
			return fp, nil
		}
	}

	fp := generate(ctx, log)
	if tz, err := ResolveTimezone(ctx, proxy); err != nil {
		log.Debug("timezone resolution skipped", "error", err)
	} else if tz != "" {
		fp.Timezone = tz
	}

	if err := writeArtifact(path, fp); err != nil {
		log.Warn("could not persist fingerprint", "path", path, "error", err)
	}
	return fp, nil
}

func loadArtifact(path string) (Fingerprint, bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- profile-scoped path built by us
	if err != nil {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil || !fp.wellFormed() {
		return Fingerprint{}, false
	}
	return fp, true
}

func writeArtifact(path string, fp Fingerprint) error {
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// generate synthesizes a fresh fingerprint. When a local Chrome/Chromium
// version is determinable the UA matches it; otherwise a templated UA is drawn
// from a small fixed catalog.
func generate(ctx context.Context, log *slog.Logger) Fingerprint {
	locale := "en-US"
	ua := ""
	if major := localChromeMajor(ctx); major > 0 {
		ua = chromiumUA(major)
	} else {
		ua = catalogUA()
		log.Debug("local browser version not determinable, using catalog UA")
	}

	headers := map[string]string{
		"Accept-Language": locale + ",en;q=0.9",
		"User-Agent":      ua,
	}
	headers = SanitizeHeaders(headers)

	return Fingerprint{
		UserAgent: ua,
		Headers:   headers,
		Navigator: map[string]any{
			"userAgent":           ua,
			"platform":            "Win32",
			"language":            locale,
			"languages":           []string{locale, "en"},
			"hardwareConcurrency": 8,
			"deviceMemory":        8,
			"vendor":              "Google Inc.",
		},
		Screen: Screen{Width: 1920, Height: 1080},
		Locale: locale,
	}
}

// SanitizeHeaders strips headers whose value encodes a browser version that
// could contradict the synthesized UA: the raw user-agent header (the engine
// sets it from the fingerprint) and version-correlated client hints.
func SanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "user-agent", "sec-ch-ua", "sec-ch-ua-full-version", "sec-ch-ua-full-version-list":
			continue
		}
		out[k] = v
	}
	return out
}

func chromiumUA(major int) string {
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/" + strconv.Itoa(major) + ".0.0.0 Safari/537.36"
}

// catalogUA picks a templated UA from a fixed set of browser/version
// combinations.
func catalogUA() string {
	type entry struct {
		template string
		min, max int
	}
	catalog := []entry{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", 110, 140},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%d.0) Gecko/20100101 Firefox/%d.0", 110, 135},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%d.0.0.0", 110, 140},
	}
	e := catalog[rand.IntN(len(catalog))]
	ver := e.min + rand.IntN(e.max-e.min+1)
	n := strings.Count(e.template, "%d")
	args := make([]any, n)
	for i := range args {
		args[i] = ver
	}
	return fmt.Sprintf(e.template, args...)
}

var chromeVersionRe = regexp.MustCompile(`(\d+)\.\d+\.\d+`)

// localChromeMajor probes known Chrome/Chromium binaries for their major
// version. Returns 0 when none is found.
func localChromeMajor(ctx context.Context) int {
	candidates := []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
		"/usr/bin/google-chrome", "/usr/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, bin := range candidates {
		path, err := exec.LookPath(bin)
		if err != nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		out, err := exec.CommandContext(cctx, path, "--version").Output() // #nosec G204 -- fixed candidate list
		cancel()
		if err != nil {
			continue
		}
		if m := chromeVersionRe.FindStringSubmatch(string(out)); m != nil {
			if major, err := strconv.Atoi(m[1]); err == nil {
				return major
			}
		}
	}
	return 0
}
