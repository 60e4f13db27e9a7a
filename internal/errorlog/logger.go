package errorlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"skillkeeper/internal/types"
)

const occurrencesFile = "_occurrences.json"

// CriticalFunc is invoked synchronously after a critical-severity capture.
type CriticalFunc func(*Entry)

// ThresholdFunc is invoked when a fingerprint's post-increment count strictly
// exceeds the configured threshold.
type ThresholdFunc func(*Entry, int)

// Config holds error logger configuration
type Config struct {
	Dir         string        // Data directory for day files and the counter (required)
	Threshold   int           // Recurrence threshold for OnThreshold (default: 2)
	OnCritical  CriticalFunc  // Optional: fired on critical-severity captures
	OnThreshold ThresholdFunc // Optional: fired when a fingerprint recurs past Threshold
	Now         func() time.Time // Optional clock override for tests
}

// Logger captures structured outcome records and serves typed queries.
// It is the leaf capability of the system: every other component holds a
// reference to it, and it knows none of them.
type Logger struct {
	mu          sync.Mutex
	dir         string
	threshold   int
	counts      map[string]int
	onCritical  CriticalFunc
	onThreshold ThresholdFunc
	now         func() time.Time
}

// New creates an error logger rooted at cfg.Dir, loading any persisted
// fingerprint counter from a previous run.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory: %w", err)
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 2
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Logger{
		dir:         cfg.Dir,
		threshold:   threshold,
		counts:      make(map[string]int),
		onCritical:  cfg.OnCritical,
		onThreshold: cfg.OnThreshold,
		now:         now,
	}
	if err := l.loadCounts(); err != nil {
		return nil, err
	}
	return l, nil
}

// Capture describes one failed execution attempt.
type Capture struct {
	Err      error
	Skill    string
	Agent    string
	Severity types.Severity // Optional: overrides inferred severity
	Input    any
	Metadata map[string]any
	Stack    string // Optional: explicit stack; defaults to the SkillError stack or the capture site
}

// CaptureError classifies, fingerprints, counts, and persists an error.
// Filesystem failures propagate: loss of an outcome record is itself a bug.
func (l *Logger) CaptureError(c Capture) (*Entry, error) {
	if c.Err == nil {
		return nil, fmt.Errorf("error is required")
	}

	name := "Error"
	message := c.Err.Error()
	stack := c.Stack
	if se, ok := c.Err.(*SkillError); ok {
		if se.Name != "" {
			name = se.Name
		}
		message = se.Message
		if stack == "" {
			stack = se.Stack
		}
	}
	if stack == "" {
		stack = string(debug.Stack())
	}

	class := Classify(name, message)
	severity := c.Severity
	if !severity.IsValid() {
		severity = InferSeverity(c.Skill, class)
	}

	l.mu.Lock()
	fp := Fingerprint(stack)
	l.counts[fp]++
	count := l.counts[fp]

	entry := &Entry{
		ID:              types.NewID(),
		Kind:            KindError,
		Timestamp:       types.Timestamp(l.now()),
		Classification:  class,
		Severity:        severity,
		Skill:           c.Skill,
		Agent:           c.Agent,
		Message:         message,
		Name:            name,
		Stack:           stack,
		Fingerprint:     fp,
		InputSummary:    summarizeInput(c.Input),
		OccurrenceCount: count,
		Metadata:        c.Metadata,
	}

	if err := l.appendLocked(entry); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if err := l.persistCountsLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	if severity == types.SeverityCritical && l.onCritical != nil {
		l.onCritical(entry)
	}
	if count > l.threshold && l.onThreshold != nil {
		l.onThreshold(entry, count)
	}
	return entry, nil
}

// CaptureSuccess records a successful execution with its duration.
func (l *Logger) CaptureSuccess(skill, agent string, duration time.Duration, input any) (*Entry, error) {
	entry := &Entry{
		ID:           types.NewID(),
		Kind:         KindSuccess,
		Timestamp:    types.Timestamp(l.now()),
		Skill:        skill,
		Agent:        agent,
		DurationMS:   duration.Milliseconds(),
		InputSummary: summarizeInput(input),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordFix appends a fix_note against an error fingerprint and clears that
// fingerprint from the counter so a re-occurrence re-escalates from zero.
func (l *Logger) RecordFix(fingerprint, note string, metadata map[string]any) (*Entry, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is required")
	}
	entry := &Entry{
		ID:          types.NewID(),
		Kind:        KindFixNote,
		Timestamp:   types.Timestamp(l.now()),
		Fingerprint: fingerprint,
		Message:     note,
		Metadata:    metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(entry); err != nil {
		return nil, err
	}
	delete(l.counts, fingerprint)
	if err := l.persistCountsLocked(); err != nil {
		return nil, err
	}
	log.Printf("[ERRORLOG] Recorded fix for fingerprint %s, counter cleared", fingerprint)
	return entry, nil
}

// RecordGateDecision appends a gate_decision outcome record.
func (l *Logger) RecordGateDecision(gate, skill, status string, risk types.RiskLevel) (*Entry, error) {
	entry := &Entry{
		ID:        types.NewID(),
		Kind:      KindGateDecision,
		Timestamp: types.Timestamp(l.now()),
		Skill:     skill,
		Message:   status,
		Metadata:  map[string]any{"gate": gate, "risk": string(risk)},
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Handler is an asynchronous skill callable.
type Handler func(ctx context.Context) (any, error)

// Exec times fn and records its outcome. On success it returns the result and
// the success entry; on failure it returns the error entry and the error.
// Handler failures never propagate unrecorded.
func (l *Logger) Exec(ctx context.Context, skill, agent string, severity types.Severity, input any, metadata map[string]any, fn Handler) (any, *Entry, error) {
	start := l.now()
	result, err := fn(ctx)
	duration := l.now().Sub(start)

	if err != nil {
		entry, capErr := l.CaptureError(Capture{
			Err:      err,
			Skill:    skill,
			Agent:    agent,
			Severity: severity,
			Input:    input,
			Metadata: metadata,
		})
		if capErr != nil {
			return nil, nil, fmt.Errorf("failed to capture error for %s: %w", skill, capErr)
		}
		return nil, entry, err
	}

	entry, capErr := l.CaptureSuccess(skill, agent, duration, input)
	if capErr != nil {
		return nil, nil, fmt.Errorf("failed to record success for %s: %w", skill, capErr)
	}
	return result, entry, nil
}

// Count returns the current occurrence count for a fingerprint.
func (l *Logger) Count(fingerprint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[fingerprint]
}

// Counts returns a snapshot of the fingerprint counter.
func (l *Logger) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// appendLocked writes one NDJSON line to the UTC day file. Caller holds mu.
func (l *Logger) appendLocked(entry *Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	path := filepath.Join(l.dir, l.now().UTC().Format("2006-01-02")+".json")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open day file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (l *Logger) persistCountsLocked() error {
	b, err := json.MarshalIndent(l.counts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal occurrence counter: %w", err)
	}
	path := filepath.Join(l.dir, occurrencesFile)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to persist occurrence counter: %w", err)
	}
	return nil
}

func (l *Logger) loadCounts() error {
	path := filepath.Join(l.dir, occurrencesFile)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read occurrence counter: %w", err)
	}
	if err := json.Unmarshal(b, &l.counts); err != nil {
		return fmt.Errorf("failed to parse occurrence counter: %w", err)
	}
	return nil
}
