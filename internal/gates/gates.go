// Package gates interposes risk-weighted human approval around skill
// execution. A plan gate runs before execution and a verify gate after; both
// suspend the caller on a pending approval that an external surface resolves
// by gate ID. Repeated identical approvals promote a plan pattern to
// auto-pass, and an audit trail is written in proportion to risk.
package gates

import (
	"fmt"
	"log"
	"sync"
	"time"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

const (
	// DefaultTimeout bounds how long a gate waits for external resolution.
	DefaultTimeout = 120 * time.Second
	// autoPassThreshold is the number of identical approvals after which a
	// plan pattern stops waiting for a human.
	autoPassThreshold = 3
	// sweepInterval is the safety-net expiry scan; the per-gate one-shot
	// timer is authoritative.
	sweepInterval = 30 * time.Second
)

// Status is a gate resolution state
type Status string

const (
	StatusApproved   Status = "approved"
	StatusEdited     Status = "edited"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
	StatusSkipped    Status = "skipped"
	StatusAutoPassed Status = "auto-passed"
)

// Plan describes what a skill intends to do, shown at the plan gate.
type Plan struct {
	Description string          `json:"description"`
	Steps       []string        `json:"steps,omitempty"`
	Rollback    string          `json:"rollback,omitempty"`
	Risk        types.RiskLevel `json:"risk,omitempty"`
}

// GateContext carries the caller's identity and risk into a gate.
type GateContext struct {
	UserID        string
	ChatID        string
	Risk          types.RiskLevel
	OriginalInput any // verify gate only
}

// Decision is the outcome of a plan or verify gate.
type Decision struct {
	GateID string         `json:"gate_id,omitempty"`
	Status Status         `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Checks []CheckResult  `json:"checks,omitempty"`
	Edits  map[string]any `json:"edits,omitempty"`
}

// GateInfo is the externally visible view of an in-flight gate.
type GateInfo struct {
	GateID    string          `json:"gate_id"`
	Gate      string          `json:"gate"` // gate1 or gate2
	Skill     string          `json:"skill"`
	Risk      types.RiskLevel `json:"risk"`
	Plan      *Plan           `json:"plan,omitempty"`
	Output    any             `json:"output,omitempty"`
	Checks    []CheckResult   `json:"checks,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type resolution struct {
	status Status
	reason string
	edits  map[string]any
}

type pendingGate struct {
	info  *GateInfo
	ch    chan resolution
	timer *time.Timer
}

// approvalRecord tracks repeated approvals of one plan pattern.
type approvalRecord struct {
	Count          int    `json:"count"`
	LastApprovedAt string `json:"last_approved_at"`
}

// Config holds gate engine configuration
type Config struct {
	Dir     string           // audit-trail directory (required)
	Logger  *errorlog.Logger // required; gate decisions are recorded through it
	Emitter *events.Emitter  // optional
	Timeout time.Duration    // per-gate approval timeout (default: 120s)
	Now     func() time.Time // optional clock override for tests
}

// Engine is the two-stage verification gate.
type Engine struct {
	mu         sync.Mutex
	dir        string
	logger     *errorlog.Logger
	emitter    *events.Emitter
	timeout    time.Duration
	now        func() time.Time
	policies   map[types.RiskLevel]Policy
	pending    map[string]*pendingGate
	approvals  map[string]*approvalRecord // patternHash -> record
	cooldowns  map[string]time.Time       // "cooldown:{skill}:{userId}" -> last approval
	rules      []Rule                     // global, after builtins
	skillRules map[string][]Rule
	sweeper    *time.Ticker
	done       chan struct{}
	closed     bool
}

// New creates a gate engine and starts its expiration sweeper.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}

	e := &Engine{
		dir:        cfg.Dir,
		logger:     cfg.Logger,
		emitter:    emitter,
		timeout:    timeout,
		now:        now,
		policies:   defaultPolicies(),
		pending:    make(map[string]*pendingGate),
		approvals:  make(map[string]*approvalRecord),
		cooldowns:  make(map[string]time.Time),
		skillRules: make(map[string][]Rule),
		done:       make(chan struct{}),
	}
	if err := e.loadApprovals(); err != nil {
		return nil, err
	}

	e.sweeper = time.NewTicker(sweepInterval)
	go e.sweepLoop()
	return e, nil
}

// Emitter returns the engine's event emitter.
func (e *Engine) Emitter() *events.Emitter { return e.emitter }

// AddRule appends a global verification rule.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// AddSkillRule appends a verification rule scoped to one skill.
func (e *Engine) AddSkillRule(skill string, r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skillRules[skill] = append(e.skillRules[skill], r)
}

// Approve resolves a pending gate as approved, optionally carrying edits.
// Returns false when the gate is unknown, already resolved, or expired.
func (e *Engine) Approve(gateID string, edits map[string]any) bool {
	status := StatusApproved
	if len(edits) > 0 {
		status = StatusEdited
	}
	return e.resolve(gateID, resolution{status: status, edits: edits})
}

// Reject resolves a pending gate as rejected.
func (e *Engine) Reject(gateID, reason string) bool {
	if reason == "" {
		reason = "Rejected by user"
	}
	return e.resolve(gateID, resolution{status: StatusRejected, reason: reason})
}

// Pending returns a snapshot of in-flight gates.
func (e *Engine) Pending() []*GateInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*GateInfo, 0, len(e.pending))
	for _, pg := range e.pending {
		out = append(out, pg.info)
	}
	return out
}

// Close cancels the sweeper and force-resolves every pending gate as
// rejected with reason "System shutdown".
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	close(e.done)
	e.sweeper.Stop()
	for _, id := range ids {
		e.resolve(id, resolution{status: StatusRejected, reason: "System shutdown"})
	}
}

// suspend registers a pending gate, emits gate-pending, and blocks until an
// external resolution or the per-gate timer fires. Multiple suspensions may
// coexist, indexed by gate ID.
func (e *Engine) suspend(info *GateInfo, eventData map[string]any) resolution {
	pg := &pendingGate{info: info, ch: make(chan resolution, 1)}

	// The timer is assigned before the gate becomes discoverable so a
	// resolver racing in via Pending() sees a fully built pendingGate.
	e.mu.Lock()
	pg.timer = time.AfterFunc(e.timeout, func() {
		e.resolve(info.GateID, resolution{status: StatusExpired, reason: "Approval timed out"})
	})
	e.pending[info.GateID] = pg
	e.mu.Unlock()

	eventData["gateId"] = info.GateID
	eventData["gate"] = info.Gate
	eventData["risk"] = string(info.Risk)
	eventData["timeoutMs"] = e.timeout.Milliseconds()
	e.emitter.Emit(events.TypeGatePending, info.Skill, eventData)

	return <-pg.ch
}

// resolve delivers a resolution to a suspended gate. Idempotent: a second
// resolution of the same gate returns false.
func (e *Engine) resolve(gateID string, res resolution) bool {
	e.mu.Lock()
	pg, ok := e.pending[gateID]
	if ok {
		delete(e.pending, gateID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.ch <- res
	return true
}

// sweepLoop is the safety net behind the per-gate timers.
func (e *Engine) sweepLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.sweeper.C:
			now := e.now()
			e.mu.Lock()
			var expired []string
			for id, pg := range e.pending {
				if now.After(pg.info.ExpiresAt) {
					expired = append(expired, id)
				}
			}
			e.mu.Unlock()
			for _, id := range expired {
				if e.resolve(id, resolution{status: StatusExpired, reason: "Approval timed out"}) {
					log.Printf("[GATES] sweeper expired gate %s", id)
				}
			}
		}
	}
}

// policyFor returns the policy for a risk level, defaulting to none.
func (e *Engine) policyFor(risk types.RiskLevel) Policy {
	if !risk.IsValid() {
		risk = types.RiskNone
	}
	return e.policies[risk]
}

func (e *Engine) newGateID(gate, skill string) string {
	return fmt.Sprintf("%s:%s:%d", gate, skill, e.now().UnixNano())
}
