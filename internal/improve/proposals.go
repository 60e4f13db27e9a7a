package improve

import (
	"fmt"
	"sort"

	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

// ProposalStatus tracks a proposal through its approval lifecycle
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
	ProposalExpired  ProposalStatus = "expired"
)

// Effort estimates how much work a proposal needs
type Effort string

const (
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
	EffortUnknown Effort = "unknown"
)

// Proposal is a structured suggestion derived from an insight, tracked
// through an approval lifecycle. At most one pending proposal exists for a
// given (insight type, skill) pair.
type Proposal struct {
	ID              string         `json:"id"`
	InsightType     InsightType    `json:"insight_type"`
	Skill           string         `json:"skill,omitempty"`
	Severity        types.Severity `json:"severity"`
	Status          ProposalStatus `json:"status"`
	Action          string         `json:"action"`
	Description     string         `json:"description"`
	Implementation  string         `json:"implementation"`
	Effort          Effort         `json:"effort"`
	AutoApplicable  bool           `json:"auto_applicable,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       string         `json:"created_at"`
	ApprovedAt      string         `json:"approved_at,omitempty"`
	RejectedAt      string         `json:"rejected_at,omitempty"`
	AppliedAt       string         `json:"applied_at,omitempty"`
	ExpiredAt       string         `json:"expired_at,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// actionPlan maps an insight type to its action kind, implementation hint,
// and effort estimate.
type actionPlan struct {
	action         string
	implementation string
	effort         Effort
	autoApplicable bool
}

func planFor(t InsightType) actionPlan {
	switch t {
	case InsightErrorPattern:
		return actionPlan{"add_error_handling", "Add targeted error handling around the failing call path", EffortMedium, false}
	case InsightCorrectionPattern:
		return actionPlan{"update_skill_logic", "Update the skill logic to address the repeated correction reason", EffortHigh, false}
	case InsightRiskAdjustment:
		return actionPlan{"adjust_risk_level", "Adjust the route's risk level in its registration", EffortLow, true}
	case InsightNewRoute:
		return actionPlan{"add_new_route", "Register a new route covering the unmatched message cluster", EffortMedium, false}
	case InsightPerformance:
		return actionPlan{"optimize_performance", "Profile the skill and remove the dominant latency or failure source", EffortMedium, false}
	case InsightUnusedRoute:
		return actionPlan{"review_unused_route", "Confirm the route is still needed or retire it", EffortLow, false}
	default:
		return actionPlan{"manual_review", "Review the insight by hand", EffortUnknown, false}
	}
}

// createProposal converts an insight into a pending proposal, enforcing
// uniqueness on the (insight type, skill) pair. Returns the existing pending
// proposal when one is already open for the pair.
func (l *Loop) createProposal(insight *Insight) (*Proposal, error) {
	l.mu.Lock()
	for _, p := range l.proposals {
		if p.Status == ProposalPending && p.InsightType == insight.Type && p.Skill == insight.Skill {
			l.mu.Unlock()
			return p, nil
		}
	}

	plan := planFor(insight.Type)
	p := &Proposal{
		ID:             types.NewID(),
		InsightType:    insight.Type,
		Skill:          insight.Skill,
		Severity:       insight.Severity,
		Status:         ProposalPending,
		Action:         plan.action,
		Description:    insight.Message,
		Implementation: plan.implementation,
		Effort:         plan.effort,
		AutoApplicable: plan.autoApplicable,
		Data:           insight.Data,
		CreatedAt:      types.Timestamp(l.now()),
	}
	l.proposals = append(l.proposals, p)
	err := l.saveLocked(proposalsFile, l.proposals)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.emitter.Emit(events.TypeNewProposal, p.Skill, map[string]any{
		"proposalId": p.ID,
		"action":     p.Action,
		"severity":   string(p.Severity),
	})
	return p, nil
}

// GenerateProposals converts the current insight list into proposals.
func (l *Loop) GenerateProposals() ([]*Proposal, error) {
	insights := l.Insights()
	var created []*Proposal
	for _, insight := range insights {
		p, err := l.createProposal(insight)
		if err != nil {
			return nil, err
		}
		created = append(created, p)
	}
	return created, nil
}

// Approve flips a pending proposal to approved.
func (l *Loop) Approve(id string) (*Proposal, error) {
	return l.transition(id, ProposalApproved, events.TypeProposalApproved, func(p *Proposal) {
		p.ApprovedAt = types.Timestamp(l.now())
	})
}

// Reject flips a pending proposal to rejected with a reason.
func (l *Loop) Reject(id, reason string) (*Proposal, error) {
	return l.transition(id, ProposalRejected, events.TypeProposalRejected, func(p *Proposal) {
		p.RejectedAt = types.Timestamp(l.now())
		p.RejectionReason = reason
	})
}

// MarkApplied flips an approved proposal to applied with optional notes.
func (l *Loop) MarkApplied(id, notes string) (*Proposal, error) {
	return l.transition(id, ProposalApplied, events.TypeProposalApplied, func(p *Proposal) {
		p.AppliedAt = types.Timestamp(l.now())
		p.Notes = notes
	})
}

func (l *Loop) transition(id string, status ProposalStatus, event events.Type, stamp func(*Proposal)) (*Proposal, error) {
	l.mu.Lock()
	var target *Proposal
	for _, p := range l.proposals {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("proposal not found: %s", id)
	}
	target.Status = status
	stamp(target)
	err := l.saveLocked(proposalsFile, l.proposals)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.emitter.Emit(event, target.Skill, map[string]any{"proposalId": target.ID})
	return target, nil
}

// Get returns a proposal by ID.
func (l *Loop) Get(id string) (*Proposal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.proposals {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// ProposalFilter selects proposals in Proposals.
type ProposalFilter struct {
	Status   ProposalStatus
	Skill    string
	Severity types.Severity
}

var severityRank = map[types.Severity]int{
	types.SeverityHigh:   0,
	types.SeverityMedium: 1,
	types.SeverityLow:    2,
}

// Proposals lists proposals matching the filter, sorted high to low severity.
func (l *Loop) Proposals(f ProposalFilter) []*Proposal {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Proposal
	for _, p := range l.proposals {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Skill != "" && p.Skill != f.Skill {
			continue
		}
		if f.Severity != "" && p.Severity != f.Severity {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, ok := severityRank[out[i].Severity]
		if !ok {
			ri = 3
		}
		rj, ok := severityRank[out[j].Severity]
		if !ok {
			rj = 3
		}
		return ri < rj
	})
	return out
}

// expirePendingLocked marks proposals pending longer than the TTL as
// expired. Caller holds mu; returns whether anything changed.
func (l *Loop) expirePendingLocked() bool {
	cutoff := types.Timestamp(l.now().Add(-proposalTTL))
	changed := false
	for _, p := range l.proposals {
		if p.Status == ProposalPending && p.CreatedAt < cutoff {
			p.Status = ProposalExpired
			p.ExpiredAt = types.Timestamp(l.now())
			changed = true
		}
	}
	return changed
}
