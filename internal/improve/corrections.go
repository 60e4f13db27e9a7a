package improve

import (
	"fmt"
	"strings"

	"skillkeeper/internal/types"
)

// CorrectionHash identifies semantically equivalent corrections: md5_10 over
// the skill and the lowercased, trimmed reason.
func CorrectionHash(skill, reason string) string {
	return types.ShortHash(skill + strings.ToLower(strings.TrimSpace(reason)))
}

// RecordCorrection stores a user correction. When the count of corrections
// sharing its pattern hash reaches the correction threshold, a
// correction_pattern proposal is created immediately, outside the periodic
// analysis cycle.
func (l *Loop) RecordCorrection(skill string, original, corrected any, reason string, ctx map[string]any) (*Correction, error) {
	if skill == "" {
		return nil, fmt.Errorf("skill is required")
	}
	if reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	c := &Correction{
		ID:          types.NewID(),
		Skill:       skill,
		Original:    types.CanonicalJSON(original),
		Corrected:   types.CanonicalJSON(corrected),
		Reason:      reason,
		Context:     ctx,
		Timestamp:   types.Timestamp(l.now()),
		PatternHash: CorrectionHash(skill, reason),
	}

	l.mu.Lock()
	l.corrections = append(l.corrections, c)
	count := 0
	for _, existing := range l.corrections {
		if existing.PatternHash == c.PatternHash {
			count++
		}
	}
	if err := l.saveLocked(correctionsFile, l.corrections); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	if count >= l.correctionThreshold {
		if _, err := l.proposeFromCorrections(c.PatternHash, skill); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordFeedback translates negative feedback into an anonymous correction.
// Rating is either a numeric score (negative when <= 2) or the string "down".
func (l *Loop) RecordFeedback(skill string, rating any, comment string) error {
	negative := false
	switch v := rating.(type) {
	case int:
		negative = v <= 2
	case float64:
		negative = v <= 2
	case string:
		negative = v == "down"
	}
	if !negative {
		return nil
	}
	if comment == "" {
		comment = "negative feedback"
	}
	_, err := l.RecordCorrection(skill, nil, nil, comment, map[string]any{"source": "feedback"})
	return err
}

// proposeFromCorrections creates the correction_pattern proposal for a
// pattern hash, unless one is already pending for it.
func (l *Loop) proposeFromCorrections(patternHash, skill string) (*Proposal, error) {
	l.mu.Lock()
	for _, p := range l.proposals {
		if p.Status == ProposalPending && p.Data["patternHash"] == patternHash {
			l.mu.Unlock()
			return p, nil
		}
	}

	var group []*Correction
	for _, c := range l.corrections {
		if c.PatternHash == patternHash {
			group = append(group, c)
		}
	}
	l.mu.Unlock()

	insight := &Insight{
		ID:       types.NewID(),
		Type:     InsightCorrectionPattern,
		Severity: types.SeverityHigh,
		Skill:    skill,
		Message: fmt.Sprintf("%d corrections share the same reason for %s: %q",
			len(group), skill, commonReason(group)),
		Data: map[string]any{
			"patternHash":  patternHash,
			"count":        len(group),
			"commonReason": commonReason(group),
		},
		Timestamp: types.Timestamp(l.now()),
	}
	return l.createProposal(insight)
}

// commonReason is the lowercased mode of the group's reasons.
func commonReason(group []*Correction) string {
	counts := make(map[string]int)
	best := ""
	for _, c := range group {
		key := strings.ToLower(strings.TrimSpace(c.Reason))
		counts[key]++
		if best == "" || counts[key] > counts[best] {
			best = key
		}
	}
	return best
}
