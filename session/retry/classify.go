package retry

import (
	"strings"

	"github.com/browserpilot/engine/types"
)

// Category is the coarse bucket a classified error falls into, driving
// the recovery action the FSM takes (§7 of the error-handling design).
type Category string

const (
	CategoryRateLimit       Category = "rate_limit"
	CategoryNetwork         Category = "network"
	CategoryTimeout         Category = "timeout"
	CategoryUserInputNeeded Category = "user_input_required"
	CategoryFatal           Category = "fatal"
	CategoryRecoverable     Category = "recoverable"
)

// categoryRecovery maps each Category to the RecoveryAction the FSM
// should apply when a retry budget has not yet been exhausted.
var categoryRecovery = map[Category]types.RecoveryAction{
	CategoryRateLimit:       types.RecoveryRetry,
	CategoryNetwork:         types.RecoveryRetry,
	CategoryTimeout:         types.RecoveryRetry,
	CategoryUserInputNeeded: types.RecoveryAsk,
	CategoryFatal:           types.RecoveryAbort,
	CategoryRecoverable:     types.RecoverySkip,
}

// Classify inspects an error's message (vendor SDK details are never
// imported here, only plain substrings) and assigns it a Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryRecoverable
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return CategoryRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled"):
		return CategoryTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host") || strings.Contains(msg, "network") || strings.Contains(msg, "econnrefused") || strings.Contains(msg, "fetch failed"):
		return CategoryNetwork
	case strings.Contains(msg, "captcha") || strings.Contains(msg, "login required") || strings.Contains(msg, "2fa") || strings.Contains(msg, "mfa") || strings.Contains(msg, "user input") || strings.Contains(msg, "verification") || strings.Contains(msg, "authentication"):
		return CategoryUserInputNeeded
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid session") || strings.Contains(msg, "guardrail"):
		return CategoryFatal
	default:
		return CategoryRecoverable
	}
}

// RecoveryFor returns the RecoveryAction the FSM should apply for a
// Category, given whether the per-step retry budget is exhausted.
func RecoveryFor(cat Category, budgetExhausted bool) types.RecoveryAction {
	if budgetExhausted && (cat == CategoryRateLimit || cat == CategoryNetwork || cat == CategoryTimeout) {
		return types.RecoveryPause
	}
	action, ok := categoryRecovery[cat]
	if !ok {
		return types.RecoverySkip
	}
	return action
}

// IsRetryable reports whether err's category warrants another attempt
// within a single Retryer.Do loop (i.e. before the FSM-level retry budget
// is considered).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RetryableError); ok {
		return re.Retryable
	}
	switch Classify(err) {
	case CategoryRateLimit, CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}
