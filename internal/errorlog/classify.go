package errorlog

import (
	"strings"

	"skillkeeper/internal/types"
)

// Classify runs the deterministic classification cascade over an error name
// and message. Match order is load-bearing: the logic tier is checked before
// dependency so that TypeError("x is not a function") resolves to logic.
func Classify(name, message string) types.Classification {
	msg := strings.ToLower(message)

	switch {
	case name == "SyntaxError" || strings.Contains(msg, "unexpected token"):
		return types.ClassSyntax

	case containsAny(msg, "econnrefused", "enotfound", "fetch failed", "network"):
		return types.ClassNetwork

	case containsAny(msg, "timeout", "etimedout", "deadline"):
		return types.ClassTimeout

	case containsAny(msg, "401", "403", "unauthorized", "permission"):
		return types.ClassPermission

	case containsAny(msg, "404", "429", "500", "api", "rate limit"):
		return types.ClassAPI

	case name == "TypeError" || name == "ReferenceError" || name == "RangeError":
		return types.ClassLogic

	case containsAny(msg, "cannot find module", "module not found", "is not a function"):
		return types.ClassDependency

	case containsAny(msg, "invalid", "required", "expected", "must be"):
		return types.ClassValidation
	}

	return types.ClassUnknown
}

// dangerousSkillWords escalate severity to critical regardless of classification.
var dangerousSkillWords = []string{"deploy", "delete", "transfer", "swap", "send"}

// InferSeverity derives a severity from the skill name and classification.
// An explicit caller-supplied severity always wins over this inference.
func InferSeverity(skill string, class types.Classification) types.Severity {
	lower := strings.ToLower(skill)
	for _, w := range dangerousSkillWords {
		if strings.Contains(lower, w) {
			return types.SeverityCritical
		}
	}
	switch class {
	case types.ClassAPI, types.ClassNetwork, types.ClassPermission:
		return types.SeverityHigh
	case types.ClassLogic, types.ClassValidation:
		return types.SeverityMedium
	}
	return types.SeverityLow
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
