// Package improve is the learning half of the system: it mines the error
// log, route analytics, gate statistics, and user corrections into typed
// insights, and converts insights into approval-tracked proposals.
//
// Insights are rebuilt from scratch on every analysis cycle and never carry
// authority across cycles; proposals and corrections are durable and
// persisted whole to the improvement data directory.
package improve

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/gates"
	"skillkeeper/internal/router"
	"skillkeeper/internal/types"
)

const (
	correctionsFile = "corrections.json"
	proposalsFile   = "proposals.json"
	insightsFile    = "insights.json"
	metricsFile     = "metrics-history.json"

	metricsRingSize = 90
	// proposalTTL expires proposals left pending across analysis cycles.
	proposalTTL = 7 * 24 * time.Hour
)

// InsightType classifies what an analysis pass detected
type InsightType string

const (
	InsightErrorPattern      InsightType = "error_pattern"
	InsightCorrectionPattern InsightType = "correction_pattern"
	InsightRiskAdjustment    InsightType = "risk_adjustment"
	InsightNewRoute          InsightType = "new_route"
	InsightPerformance       InsightType = "performance"
	InsightUnusedRoute       InsightType = "unused_route"
	InsightAutoFix           InsightType = "auto_fix"
	InsightSkillUpdate       InsightType = "skill_update"
)

// Insight is one detected pattern. Regenerated every cycle.
type Insight struct {
	ID        string         `json:"id"`
	Type      InsightType    `json:"type"`
	Severity  types.Severity `json:"severity"` // low, medium, high
	Skill     string         `json:"skill,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Correction is an explicit user correction of a skill's output.
// Corrections never mutate or self-delete.
type Correction struct {
	ID          string         `json:"id"`
	Skill       string         `json:"skill"`
	Original    string         `json:"original"`
	Corrected   string         `json:"corrected"`
	Reason      string         `json:"reason"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   string         `json:"timestamp"`
	PatternHash string         `json:"pattern_hash"`
}

// Config holds improvement loop configuration
type Config struct {
	Dir     string           // improvement-data directory (required)
	Logger  *errorlog.Logger // required
	Router  *router.Router   // optional: route analytics and the unmatched ring
	Gates   *gates.Engine    // optional: per-risk decision statistics
	Emitter *events.Emitter  // optional

	ErrorThreshold      int // recurring-error count for an insight (default: 3)
	CorrectionThreshold int // identical corrections before a proposal (default: 3)
	MissThreshold       int // unmatched messages before clustering (default: 5)
	RejectionThreshold  int // gate rejections before a risk raise (default: 3)

	Now func() time.Time // optional clock override for tests
}

// Loop is the self-improvement loop.
type Loop struct {
	mu      sync.Mutex
	dir     string
	logger  *errorlog.Logger
	router  *router.Router
	gates   *gates.Engine
	emitter *events.Emitter
	now     func() time.Time

	errorThreshold      int
	correctionThreshold int
	missThreshold       int
	rejectionThreshold  int

	corrections []*Correction
	proposals   []*Proposal
	insights    []*Insight
	metrics     []*Snapshot
}

// New creates an improvement loop rooted at cfg.Dir, reloading any persisted
// corrections, proposals, insights, and metrics history.
func New(cfg *Config) (*Loop, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create improvement data directory: %w", err)
	}

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Loop{
		dir:                 cfg.Dir,
		logger:              cfg.Logger,
		router:              cfg.Router,
		gates:               cfg.Gates,
		emitter:             emitter,
		now:                 now,
		errorThreshold:      defaultInt(cfg.ErrorThreshold, 3),
		correctionThreshold: defaultInt(cfg.CorrectionThreshold, 3),
		missThreshold:       defaultInt(cfg.MissThreshold, 5),
		rejectionThreshold:  defaultInt(cfg.RejectionThreshold, 3),
	}

	if err := l.loadAll(); err != nil {
		return nil, err
	}
	return l, nil
}

// Emitter returns the loop's event emitter.
func (l *Loop) Emitter() *events.Emitter { return l.emitter }

// Insights returns the insight list from the most recent analysis cycle.
func (l *Loop) Insights() []*Insight {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Insight, len(l.insights))
	copy(out, l.insights)
	return out
}

// Corrections returns all recorded corrections.
func (l *Loop) Corrections() []*Correction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Correction, len(l.corrections))
	copy(out, l.corrections)
	return out
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// persistence helpers. Each file is rewritten whole; the loop is its only writer.

func (l *Loop) saveLocked(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, name), b, 0o644); err != nil {
		return fmt.Errorf("failed to persist %s: %w", name, err)
	}
	return nil
}

func (l *Loop) loadFile(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(l.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (l *Loop) loadAll() error {
	if err := l.loadFile(correctionsFile, &l.corrections); err != nil {
		return err
	}
	if err := l.loadFile(proposalsFile, &l.proposals); err != nil {
		return err
	}
	if err := l.loadFile(insightsFile, &l.insights); err != nil {
		return err
	}
	return l.loadFile(metricsFile, &l.metrics)
}
