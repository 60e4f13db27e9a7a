package gates

import (
	"fmt"

	"skillkeeper/internal/types"
)

// PatternHash identifies semantically equivalent plans: md5_10 over the skill
// and the canonical serialization of the plan's steps, falling back to its
// description.
func PatternHash(skill string, plan *Plan) string {
	var body any
	if plan != nil {
		if len(plan.Steps) > 0 {
			body = plan.Steps
		} else {
			body = plan.Description
		}
	}
	return types.ShortHash(skill + ":" + types.CanonicalJSON(body))
}

// PlanGate is the pre-execution checkpoint. Depending on policy and history
// it skips, auto-passes, rejects on cooldown, or suspends for approval.
func (e *Engine) PlanGate(skill string, plan *Plan, gctx *GateContext) (*Decision, error) {
	if plan == nil || plan.Description == "" {
		return nil, fmt.Errorf("plan description is required")
	}
	if gctx == nil {
		gctx = &GateContext{}
	}
	risk := gctx.Risk
	if risk == "" {
		risk = plan.Risk
	}
	policy := e.policyFor(risk)

	if !policy.Gate1 {
		return &Decision{Status: StatusSkipped}, nil
	}

	hash := PatternHash(skill, plan)

	e.mu.Lock()
	record := e.approvals[hash]
	autoPass := record != nil && record.Count >= autoPassThreshold
	cooldownKey := fmt.Sprintf("cooldown:%s:%s", skill, gctx.UserID)
	var cooldownRemaining int
	if !autoPass && policy.CooldownSeconds > 0 {
		if last, ok := e.cooldowns[cooldownKey]; ok {
			elapsed := int(e.now().Sub(last).Seconds())
			if elapsed < policy.CooldownSeconds {
				cooldownRemaining = policy.CooldownSeconds - elapsed
			}
		}
	}
	e.mu.Unlock()

	if autoPass {
		decision := &Decision{Status: StatusAutoPassed}
		e.record("gate1", skill, decision, risk, policy, gctx, plan, nil)
		return decision, nil
	}
	if cooldownRemaining > 0 {
		decision := &Decision{
			Status: StatusRejected,
			Reason: fmt.Sprintf("Cooldown active: %ds remaining", cooldownRemaining),
		}
		e.record("gate1", skill, decision, risk, policy, gctx, plan, nil)
		return decision, nil
	}

	info := &GateInfo{
		GateID:    e.newGateID("gate1", skill),
		Gate:      "gate1",
		Skill:     skill,
		Risk:      risk,
		Plan:      plan,
		UserID:    gctx.UserID,
		ExpiresAt: e.now().Add(e.timeout),
	}
	res := e.suspend(info, map[string]any{"plan": plan})

	decision := &Decision{
		GateID: info.GateID,
		Status: res.status,
		Reason: res.reason,
		Edits:  res.edits,
	}

	if res.status == StatusApproved || res.status == StatusEdited {
		e.mu.Lock()
		record := e.approvals[hash]
		if record == nil {
			record = &approvalRecord{}
			e.approvals[hash] = record
		}
		record.Count++
		record.LastApprovedAt = types.Timestamp(e.now())
		if policy.CooldownSeconds > 0 {
			e.cooldowns[cooldownKey] = e.now()
		}
		err := e.persistApprovalsLocked()
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	e.record("gate1", skill, decision, risk, policy, gctx, plan, nil)
	return decision, nil
}
