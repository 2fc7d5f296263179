package guardrail

import "regexp"

// pattern pairs a compiled regex with the category, severity, and
// replacement marker applied when Sanitize rewrites a match. Patterns run
// in slice order, and that order is the "fixed order" spec.md §4.1
// requires: task_override first, credential_leak last, so an override
// attempt that also leaks a credential is tagged task_override before
// the credential pattern ever sees the (by-then-replaced) text.
type pattern struct {
	name     string
	category Category
	severity Severity
	re       *regexp.Regexp
	marker   string
}

// basePatterns run unconditionally, regardless of strictSecurity.
func basePatterns() []pattern {
	return []pattern{
		// task_override — attempts to discard the operator's instructions.
		{"ignore_instructions", CategoryTaskOverride, SeverityCritical,
			regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
			"[BLOCKED_OVERRIDE_ATTEMPT]"},
		{"disregard_instructions", CategoryTaskOverride, SeverityCritical,
			regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?)`),
			"[BLOCKED_OVERRIDE_ATTEMPT]"},
		{"new_instructions", CategoryTaskOverride, SeverityHigh,
			regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
			"[BLOCKED_OVERRIDE_ATTEMPT]"},
		{"dan_jailbreak", CategoryTaskOverride, SeverityCritical,
			regexp.MustCompile(`(?i)\bDAN\b.{0,20}(mode|jailbreak)`),
			"[BLOCKED_OVERRIDE_ATTEMPT]"},

		// prompt_injection — attempts to smuggle new directives or
		// escape the data/instruction boundary.
		{"system_prompt_override", CategoryPromptInjection, SeverityHigh,
			regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+\w+`),
			"[BLOCKED_INJECTION_ATTEMPT]"},
		{"reveal_system_prompt", CategoryPromptInjection, SeverityHigh,
			regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+)?prompt`),
			"[BLOCKED_INJECTION_ATTEMPT]"},
		{"role_play_jailbreak", CategoryPromptInjection, SeverityMedium,
			regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)`),
			"[BLOCKED_INJECTION_ATTEMPT]"},
		{"encoded_payload", CategoryPromptInjection, SeverityMedium,
			regexp.MustCompile(`(?i)base64\s*:\s*[A-Za-z0-9+/=]{24,}`),
			"[BLOCKED_INJECTION_ATTEMPT]"},

		// system_reference — attempts to address or impersonate the
		// model's own control channel.
		{"delimiter_escape", CategorySystemRef, SeverityHigh,
			regexp.MustCompile(`(?i)(\[/?(system|instructions?)\]|</?(system|instructions?)>)`),
			"[BLOCKED_SYSTEM_REFERENCE]"},
		{"assistant_role_claim", CategorySystemRef, SeverityMedium,
			regexp.MustCompile(`(?i)as\s+an\s+AI\s+(language\s+)?model\s+(trained|developed|created)\s+by`),
			"[BLOCKED_SYSTEM_REFERENCE]"},

		// dangerous_action — instructions describing destructive or
		// irreversible operations, never to be carried out on the
		// filter's say-so.
		{"destructive_filesystem", CategoryDangerousAction, SeverityHigh,
			regexp.MustCompile(`(?i)(rm\s+-rf|format\s+(the\s+)?(disk|drive)|delete\s+all\s+files)`),
			"[BLOCKED_DANGEROUS_ACTION]"},
		{"financial_transfer", CategoryDangerousAction, SeverityHigh,
			regexp.MustCompile(`(?i)(wire|transfer)\s+(all\s+)?(my\s+)?(funds|money)\s+to`),
			"[BLOCKED_DANGEROUS_ACTION]"},

		// sensitive_data (base) — always-on patterns for numeric PII.
		{"ssn", CategorySensitiveData, SeverityHigh,
			regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			"[REDACTED_SSN]"},
		{"credit_card", CategorySensitiveData, SeverityHigh,
			regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
			"[REDACTED_CREDIT_CARD]"},

		// credential_leak — secrets that must never reach a prompt or a
		// log line.
		{"api_key", CategoryCredentialLeak, SeverityCritical,
			regexp.MustCompile(`(?i)(sk|api|key|secret|token)[-_]?[a-z0-9]{20,}`),
			"[REDACTED_CREDENTIAL]"},
		{"aws_access_key", CategoryCredentialLeak, SeverityCritical,
			regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			"[REDACTED_CREDENTIAL]"},
		{"bearer_token", CategoryCredentialLeak, SeverityCritical,
			regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`),
			"[REDACTED_CREDENTIAL]"},
	}
}

// strictPatterns run only when the caller passes strict=true
// (session.Config.GuardrailStrict / the wire "strictSecurity" option).
func strictPatterns() []pattern {
	return []pattern{
		{"email", CategorySensitiveData, SeverityLow,
			regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
			"[REDACTED_EMAIL]"},
		{"phone", CategorySensitiveData, SeverityLow,
			regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			"[REDACTED_PHONE]"},
	}
}

// activePatterns returns the fixed-order pattern set Sanitize/Detect/
// Validate scan against for the given strictness.
func activePatterns(strict bool) []pattern {
	ps := basePatterns()
	if strict {
		ps = append(ps, strictPatterns()...)
	}
	return ps
}
