package securelink

import "testing"

func TestDenialMessageCoversAllReasons(t *testing.T) {
	reasons := []DenialReason{DenialInvalid, DenialExpired, DenialRevoked, DenialExhausted, DenialError}
	for _, lang := range []string{"en", "ms"} {
		seen := make(map[string]bool)
		for _, reason := range reasons {
			msg := DenialMessage(lang, reason)
			if msg == "" {
				t.Fatalf("missing %s message for %s", lang, reason)
			}
			if seen[msg] {
				t.Fatalf("duplicate %s message for %s", lang, reason)
			}
			seen[msg] = true
		}
	}
}

func TestDenialMessageFallbacks(t *testing.T) {
	if DenialMessage("fr", DenialExpired) != DenialMessage("en", DenialExpired) {
		t.Fatal("unknown language must fall back to English")
	}
	if DenialMessage("ms-MY", DenialExpired) != DenialMessage("ms", DenialExpired) {
		t.Fatal("region subtags must resolve to the base language")
	}
	if DenialMessage("en", DenialReason("bogus")) != DenialMessage("en", DenialError) {
		t.Fatal("unknown reason must map to the generic error message")
	}
}
