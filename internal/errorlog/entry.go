// Package errorlog captures every skill outcome in a form amenable to
// deduplication, trend analysis, and targeted repair.
//
// Records are appended as newline-delimited JSON to a daily file
// (errors/YYYY-MM-DD.json, UTC date) and a process-wide fingerprint counter
// is persisted to errors/_occurrences.json on every capture. Two errors
// sharing a fingerprint share the same root-cause identity.
package errorlog

import (
	"encoding/json"
	"fmt"

	"skillkeeper/internal/types"
)

// Kind discriminates outcome records
type Kind string

const (
	KindError        Kind = "error"
	KindSuccess      Kind = "success"
	KindFixNote      Kind = "fix_note"
	KindGateDecision Kind = "gate_decision"
)

// Entry is one outcome record. One is appended per execution attempt.
type Entry struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Timestamp string `json:"timestamp"`

	// Error fields
	Classification  types.Classification `json:"classification,omitempty"`
	Severity        types.Severity       `json:"severity,omitempty"`
	Skill           string               `json:"skill,omitempty"`
	Agent           string               `json:"agent,omitempty"`
	Message         string               `json:"message,omitempty"`
	Name            string               `json:"name,omitempty"`
	Stack           string               `json:"stack,omitempty"`
	Fingerprint     string               `json:"fingerprint,omitempty"`
	InputSummary    string               `json:"input_summary,omitempty"`
	OccurrenceCount int                  `json:"occurrence_count,omitempty"`
	Metadata        map[string]any       `json:"metadata,omitempty"`

	// Success fields
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// SkillError is a structured handler failure. Handlers that want control over
// classification can return one; plain errors are captured with a synthetic
// stack taken at the capture site.
type SkillError struct {
	Name    string
	Message string
	Stack   string
}

func (e *SkillError) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// NewSkillError builds a SkillError with an explicit name and stack.
func NewSkillError(name, message, stack string) *SkillError {
	return &SkillError{Name: name, Message: message, Stack: stack}
}

// summarizeInput serializes v to JSON and truncates to 500 characters.
func summarizeInput(v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	return types.Truncate(s, 500)
}
