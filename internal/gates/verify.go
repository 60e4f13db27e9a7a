package gates

import (
	"strings"

	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

// VerifyGate is the post-execution checkpoint. It runs the union of built-in,
// global, and skill-scoped rules in declaration order, then either skips,
// auto-passes, rejects, or suspends for approval based on policy and risk.
func (e *Engine) VerifyGate(skill string, output any, gctx *GateContext) (*Decision, error) {
	if gctx == nil {
		gctx = &GateContext{}
	}
	risk := gctx.Risk
	policy := e.policyFor(risk)

	if !policy.Gate2 {
		return &Decision{Status: StatusSkipped}, nil
	}

	checks := e.runChecks(skill, output, gctx)
	allPass := true
	var reasons []string
	for _, c := range checks {
		if !c.Pass {
			allPass = false
			reasons = append(reasons, c.Reason)
		}
	}

	needsApproval := risk == types.RiskHigh || risk == types.RiskCritical

	if !allPass {
		e.emitter.Emit(events.TypeVerificationFailed, skill, map[string]any{
			"checks": checks,
			"risk":   string(risk),
		})
	}

	if !needsApproval {
		decision := &Decision{Checks: checks}
		if allPass {
			decision.Status = StatusAutoPassed
		} else {
			decision.Status = StatusRejected
			decision.Reason = strings.Join(reasons, "; ")
			e.emitter.Emit(events.TypeVerificationRejected, skill, map[string]any{
				"reason": decision.Reason,
			})
		}
		e.record("gate2", skill, decision, risk, policy, gctx, nil, output)
		return decision, nil
	}

	// High and critical risk always wait for a human, pass or fail.
	info := &GateInfo{
		GateID:    e.newGateID("gate2", skill),
		Gate:      "gate2",
		Skill:     skill,
		Risk:      risk,
		Output:    output,
		Checks:    checks,
		UserID:    gctx.UserID,
		ExpiresAt: e.now().Add(e.timeout),
	}
	eventData := map[string]any{
		"output": output,
		"checks": checks,
	}
	if !allPass {
		eventData["failedChecks"] = reasons
	}
	res := e.suspend(info, eventData)

	decision := &Decision{
		GateID: info.GateID,
		Status: res.status,
		Reason: res.reason,
		Checks: checks,
		Edits:  res.edits,
	}
	if res.status == StatusRejected {
		e.emitter.Emit(events.TypeVerificationRejected, skill, map[string]any{
			"reason": decision.Reason,
		})
	}
	e.record("gate2", skill, decision, risk, policy, gctx, nil, output)
	return decision, nil
}

// runChecks evaluates built-in rules, then global rules, then skill-scoped
// rules. A panicking rule becomes a failed check, never a propagated error.
func (e *Engine) runChecks(skill string, output any, gctx *GateContext) []CheckResult {
	e.mu.Lock()
	rules := make([]Rule, 0, 3+len(e.rules)+len(e.skillRules[skill]))
	rules = append(rules, builtinRules()...)
	rules = append(rules, e.rules...)
	rules = append(rules, e.skillRules[skill]...)
	e.mu.Unlock()

	checks := make([]CheckResult, 0, len(rules))
	for _, rule := range rules {
		checks = append(checks, runRule(rule, output, gctx))
	}
	return checks
}
