package guardrail

import (
	"testing"

	"pgregory.net/rapid"
)

// TestSanitizeIdempotent asserts that re-sanitizing already-sanitized
// content never produces new findings: Sanitize is a fixed point once a
// piece of text has passed through it once.
func TestSanitizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.StringN(0, 200, -1).Draw(t, "content")
		f := NewSessionFilter()

		once := f.Sanitize(content, false)
		twice := f.Sanitize(once.Text, false)
		if twice.Text != once.Text {
			t.Fatalf("sanitize not idempotent: %q -> %q", once.Text, twice.Text)
		}
	})
}

// TestValidateNeverPanics hammers Validate with arbitrary input to
// confirm it always returns a result rather than panicking, for both
// strictness settings.
func TestValidateNeverPanics(t *testing.T) {
	filter := NewSessionFilter()
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		strict := rapid.Bool().Draw(t, "strict")
		result := filter.Validate(content, strict)
		if strict && len(result.Threats) > 0 && result.OK {
			t.Fatalf("strict mode must not pass with threats detected: %+v", result)
		}
	})
}
