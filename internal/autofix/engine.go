// Package autofix materializes approved proposals into concrete source
// patches under a safety envelope: every apply is backed up, tested, and
// rolled back on failure.
package autofix

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skillkeeper/internal/ai"
	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/improve"
	"skillkeeper/internal/types"
)

const (
	fixesFile  = "fixes.json"
	backupsDir = "backups"

	// DefaultTestTimeout bounds the skill test subprocess.
	DefaultTestTimeout = 30 * time.Second
)

// FixStatus tracks a fix through generation, approval, and deployment.
type FixStatus string

const (
	FixGenerating FixStatus = "generating"
	FixReady      FixStatus = "ready"
	FixApproved   FixStatus = "approved"
	FixRejected   FixStatus = "rejected"
	FixApplying   FixStatus = "applying"
	FixTesting    FixStatus = "testing"
	FixDeployed   FixStatus = "deployed"
	FixRolledBack FixStatus = "rolled_back"
	FixFailed     FixStatus = "failed"
)

// FixSource records how the patch was synthesized.
type FixSource string

const (
	SourceOracle   FixSource = "oracle"
	SourceTemplate FixSource = "template"
)

// Fix is one generated patch and its lifecycle record.
type Fix struct {
	ID             string               `json:"id"`
	ProposalID     string               `json:"proposal_id"`
	Skill          string               `json:"skill"`
	Fingerprint    string               `json:"fingerprint,omitempty"`
	Classification types.Classification `json:"classification,omitempty"`
	FilePath       string               `json:"file_path"`
	Source         FixSource            `json:"source"`
	Status         FixStatus            `json:"status"`
	Explanation    string               `json:"explanation,omitempty"`
	OriginalCode   string               `json:"original_code"`
	FixedCode      string               `json:"fixed_code"`
	Diff           []string             `json:"diff"`
	BackupPath     string               `json:"backup_path,omitempty"`
	TestFile       string               `json:"test_file,omitempty"`
	TestOutput     string               `json:"test_output,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	CreatedAt      string               `json:"created_at"`
	ResolvedAt     string               `json:"resolved_at,omitempty"`
}

// TestRunner executes a skill's test file and returns its combined output.
// The default runner shells out to node; tests inject a canned one.
type TestRunner func(ctx context.Context, testFile string) (string, error)

// Config holds auto-fix engine configuration
type Config struct {
	Dir       string           // autofix-data directory (required)
	SkillsDir string           // skills workspace for source localization
	Logger    *errorlog.Logger // required
	Loop      *improve.Loop    // required: proposals come from here
	Oracle    ai.Oracle        // optional: nil selects the template table
	Emitter   *events.Emitter  // optional

	TestRunner  TestRunner    // optional override
	TestTimeout time.Duration // default 30s
	Now         func() time.Time
}

// Engine turns proposals into patches and shepherds them through the apply
// pipeline.
type Engine struct {
	mu        sync.Mutex
	dir       string
	skillsDir string
	logger    *errorlog.Logger
	loop      *improve.Loop
	oracle    ai.Oracle
	emitter   *events.Emitter
	runTest   TestRunner
	timeout   time.Duration
	now       func() time.Time

	fixes []*Fix
}

// New creates an auto-fix engine rooted at cfg.Dir, reloading any persisted
// fix history.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("improvement loop is required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, backupsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create autofix data directory: %w", err)
	}

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.TestTimeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	runner := cfg.TestRunner
	if runner == nil {
		runner = runNodeTest
	}

	e := &Engine{
		dir:       cfg.Dir,
		skillsDir: cfg.SkillsDir,
		logger:    cfg.Logger,
		loop:      cfg.Loop,
		oracle:    cfg.Oracle,
		emitter:   emitter,
		runTest:   runner,
		timeout:   timeout,
		now:       now,
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// Fixes returns a copy of the fix list, newest last.
func (e *Engine) Fixes() []*Fix {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Fix, len(e.fixes))
	copy(out, e.fixes)
	return out
}

// Get returns a fix by ID.
func (e *Engine) Get(id string) (*Fix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findLocked(id)
}

func (e *Engine) findLocked(id string) (*Fix, bool) {
	for _, f := range e.fixes {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

func (e *Engine) saveLocked() error {
	b, err := json.MarshalIndent(e.fixes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fixes: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, fixesFile), b, 0o644); err != nil {
		return fmt.Errorf("failed to persist fixes: %w", err)
	}
	return nil
}

func (e *Engine) load() error {
	b, err := os.ReadFile(filepath.Join(e.dir, fixesFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read fixes: %w", err)
	}
	if err := json.Unmarshal(b, &e.fixes); err != nil {
		return fmt.Errorf("failed to parse fixes: %w", err)
	}
	return nil
}
