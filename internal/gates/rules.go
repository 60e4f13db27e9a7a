package gates

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Rule is a verification predicate run against a skill's output.
// Global rules apply to every skill; skill-scoped rules are additive.
type Rule struct {
	Name        string
	Description string
	Check       func(output any, gctx *GateContext) (bool, string)
}

// CheckResult is one rule evaluation.
type CheckResult struct {
	Rule   string `json:"rule"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

var inputTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]{4,}`)

// builtinRules are evaluated for every skill, before any custom rules.
func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "output-present",
			Description: "output is non-nil",
			Check: func(output any, _ *GateContext) (bool, string) {
				if output == nil {
					return false, "output is nil"
				}
				return true, ""
			},
		},
		{
			Name:        "output-not-error",
			Description: "output is not a structured error",
			Check: func(output any, _ *GateContext) (bool, string) {
				m := asMap(output)
				if m == nil {
					return true, ""
				}
				if b, ok := m["error"].(bool); ok && b {
					return false, "output carries error=true"
				}
				if status, ok := m["status"].(string); ok && (status == "error" || status == "failed") {
					return false, fmt.Sprintf("output status is %q", status)
				}
				return true, ""
			},
		},
		{
			Name:        "output-reflects-input",
			Description: "output echoes at least one substantial input token",
			Check: func(output any, gctx *GateContext) (bool, string) {
				if gctx == nil || gctx.OriginalInput == nil {
					return true, ""
				}
				in := strings.ToLower(serialize(gctx.OriginalInput))
				out := strings.ToLower(serialize(output))
				for _, tok := range inputTokenRegex.FindAllString(in, -1) {
					if strings.Contains(out, tok) {
						return true, ""
					}
				}
				return false, "output shares no substantial token with the input"
			},
		},
	}
}

// runRule evaluates one rule, converting a panic into a failed check.
func runRule(rule Rule, output any, gctx *GateContext) (result CheckResult) {
	result = CheckResult{Rule: rule.Name}
	defer func() {
		if r := recover(); r != nil {
			result.Pass = false
			result.Reason = fmt.Sprintf("Rule threw error: %v", r)
		}
	}()
	pass, reason := rule.Check(output, gctx)
	result.Pass = pass
	result.Reason = reason
	return result
}

// asMap views output as a JSON object, or nil when it is not one.
func asMap(output any) map[string]any {
	if m, ok := output.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(output)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func serialize(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
