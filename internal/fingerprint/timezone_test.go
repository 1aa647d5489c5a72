package fingerprint

import (
	"context"
	"testing"
)

func TestResolveTimezoneWithoutProxy(t *testing.T) {
	tz, err := ResolveTimezone(context.Background(), nil)
	if err != nil || tz != "" {
		t.Fatalf("direct connection must skip lookup, got %q, %v", tz, err)
	}
}

func TestProviderExtractors(t *testing.T) {
	ipapi := timezoneProviders[0]
	if tz := ipapi.extract([]byte(`{"ip":"1.2.3.4","timezone":"Europe/Warsaw"}`)); tz != "Europe/Warsaw" {
		t.Fatalf("ipapi extract: %q", tz)
	}
	if tz := ipapi.extract([]byte(`garbage`)); tz != "" {
		t.Fatalf("ipapi extract from garbage: %q", tz)
	}

	ipwho := timezoneProviders[1]
	if tz := ipwho.extract([]byte(`{"success":true,"timezone":{"id":"America/New_York","abbr":"EST"}}`)); tz != "America/New_York" {
		t.Fatalf("ipwho extract: %q", tz)
	}
	if tz := ipwho.extract([]byte(`{}`)); tz != "" {
		t.Fatalf("ipwho extract from empty: %q", tz)
	}
}
