package gates

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

const approvalsFile = "_approvals.json"

// auditEntry is one NDJSON line of audit-trail/YYYY-MM-DD.json.
type auditEntry struct {
	Timestamp     string          `json:"timestamp"`
	Gate          string          `json:"gate"`
	Skill         string          `json:"skill"`
	Status        Status          `json:"status"`
	Risk          types.RiskLevel `json:"risk"`
	UserID        string          `json:"user_id,omitempty"`
	Plan          *Plan           `json:"plan,omitempty"`
	OutputSummary string          `json:"output_summary,omitempty"`
	Checks        []CheckResult   `json:"checks,omitempty"`
}

// record finishes a resolved gate: audit line when policy asks for one,
// a gate_decision outcome record, and the gate-resolved event.
func (e *Engine) record(gate, skill string, decision *Decision, risk types.RiskLevel, policy Policy, gctx *GateContext, plan *Plan, output any) {
	if policy.AuditTrail {
		entry := &auditEntry{
			Timestamp: types.Timestamp(e.now()),
			Gate:      gate,
			Skill:     skill,
			Status:    decision.Status,
			Risk:      risk,
			UserID:    gctx.UserID,
			Plan:      plan,
			Checks:    decision.Checks,
		}
		if output != nil {
			entry.OutputSummary = types.Truncate(serialize(output), 300)
		}
		if err := e.appendAudit(entry); err != nil {
			log.Printf("[GATES] failed to append audit entry: %v", err)
		}
	}

	if _, err := e.logger.RecordGateDecision(gate, skill, string(decision.Status), risk); err != nil {
		log.Printf("[GATES] failed to record gate decision: %v", err)
	}

	e.emitter.Emit(events.TypeGateResolved, skill, map[string]any{
		"gate":   gate,
		"status": string(decision.Status),
		"reason": decision.Reason,
	})
}

func (e *Engine) appendAudit(entry *auditEntry) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	path := filepath.Join(e.dir, e.now().UTC().Format("2006-01-02")+".json")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// persistApprovalsLocked writes the approval history through on mutation.
// Caller holds mu.
func (e *Engine) persistApprovalsLocked() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	b, err := json.MarshalIndent(e.approvals, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal approval history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, approvalsFile), b, 0o644); err != nil {
		return fmt.Errorf("failed to persist approval history: %w", err)
	}
	return nil
}

func (e *Engine) loadApprovals() error {
	b, err := os.ReadFile(filepath.Join(e.dir, approvalsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read approval history: %w", err)
	}
	if err := json.Unmarshal(b, &e.approvals); err != nil {
		return fmt.Errorf("failed to parse approval history: %w", err)
	}
	return nil
}

// SkillStats aggregates resolutions for one skill over a stats window.
type SkillStats struct {
	Skill    string `json:"skill"`
	Approved int    `json:"approved"` // approved + edited
	Rejected int    `json:"rejected"`
	Expired  int    `json:"expired"`
	Auto     int    `json:"auto"`
	Total    int    `json:"total"`
}

// Stats is the aggregate view over the last N days of audit files.
type Stats struct {
	PerGate  map[string]map[Status]int `json:"per_gate"`
	PerSkill map[string]*SkillStats    `json:"per_skill"`
	// Candidates lists skills with at least five resolutions and zero
	// rejections; the improvement loop proposes lowering their risk.
	Candidates      []string `json:"candidates"`
	PlanExpiredRate float64  `json:"plan_expired_rate"` // expired fraction of gate1 resolutions
}

// Stats reads the last days of audit files and aggregates decisions per gate
// and per skill. Malformed lines are skipped.
func (e *Engine) Stats(days int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	stats := &Stats{
		PerGate:  map[string]map[Status]int{"gate1": {}, "gate2": {}},
		PerSkill: make(map[string]*SkillStats),
	}

	for i := 0; i < days; i++ {
		day := e.now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		b, err := os.ReadFile(filepath.Join(e.dir, day+".json"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, line := range splitNDJSON(b) {
			var entry auditEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
			if stats.PerGate[entry.Gate] == nil {
				stats.PerGate[entry.Gate] = map[Status]int{}
			}
			stats.PerGate[entry.Gate][entry.Status]++

			ss := stats.PerSkill[entry.Skill]
			if ss == nil {
				ss = &SkillStats{Skill: entry.Skill}
				stats.PerSkill[entry.Skill] = ss
			}
			ss.Total++
			switch entry.Status {
			case StatusApproved, StatusEdited:
				ss.Approved++
			case StatusRejected:
				ss.Rejected++
			case StatusExpired:
				ss.Expired++
			case StatusAutoPassed:
				ss.Auto++
			}
		}
	}

	for skill, ss := range stats.PerSkill {
		if ss.Total >= 5 && ss.Rejected == 0 {
			stats.Candidates = append(stats.Candidates, skill)
		}
	}
	sort.Strings(stats.Candidates)

	gate1 := stats.PerGate["gate1"]
	var gate1Total int
	for _, n := range gate1 {
		gate1Total += n
	}
	if gate1Total > 0 {
		stats.PlanExpiredRate = float64(gate1[StatusExpired]) / float64(gate1Total)
	}
	return stats, nil
}

func splitNDJSON(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, b[start:i])
			}
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return lines
}
