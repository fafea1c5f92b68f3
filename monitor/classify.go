package monitor

import "strings"

// ErrorCategory is the coarse classification of a task failure, used to pick
// recovery actions and retry strategies.
type ErrorCategory string

const (
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryPermission      ErrorCategory = "permission"
	CategoryElementNotFound ErrorCategory = "element-not-found"
	CategoryNetwork         ErrorCategory = "network"
	CategoryUnknown         ErrorCategory = "unknown"
)

// ClassifyError buckets an error string by substring matching. This is a
// heuristic, not a parser: the first matching category wins and a
// misclassification only selects a suboptimal recovery policy.
func ClassifyError(errText string) ErrorCategory {
	s := strings.ToLower(errText)
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "timed out") || strings.Contains(s, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(s, "permission") || strings.Contains(s, "access denied") || strings.Contains(s, "unauthorized"):
		return CategoryPermission
	case strings.Contains(s, "element not found") || strings.Contains(s, "no such element") || strings.Contains(s, "not found on screen"):
		return CategoryElementNotFound
	case strings.Contains(s, "network") || strings.Contains(s, "connection") || strings.Contains(s, "unreachable"):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}
