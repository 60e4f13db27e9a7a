package gates

import "skillkeeper/internal/types"

// Policy decides which gates apply at a risk level and how approvals behave.
type Policy struct {
	Gate1           bool `json:"gate1"` // plan gate, pre-execution
	Gate2           bool `json:"gate2"` // verify gate, post-execution
	CooldownSeconds int  `json:"cooldown_seconds"`
	AuditTrail      bool `json:"audit_trail"`
}

// defaultPolicies is the canonical risk-to-policy table.
func defaultPolicies() map[types.RiskLevel]Policy {
	return map[types.RiskLevel]Policy{
		types.RiskNone:     {Gate1: false, Gate2: false, CooldownSeconds: 0, AuditTrail: false},
		types.RiskLow:      {Gate1: false, Gate2: false, CooldownSeconds: 0, AuditTrail: false},
		types.RiskMedium:   {Gate1: false, Gate2: true, CooldownSeconds: 0, AuditTrail: false},
		types.RiskHigh:     {Gate1: true, Gate2: true, CooldownSeconds: 0, AuditTrail: true},
		types.RiskCritical: {Gate1: true, Gate2: true, CooldownSeconds: 30, AuditTrail: true},
	}
}
