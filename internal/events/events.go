// Package events provides the in-process lifecycle event bus shared by the
// router, gates, improvement loop, and auto-fix engine. The chat surface
// subscribes here; the core never blocks on a subscriber.
package events

import (
	"log"
	"sync"
	"time"

	"skillkeeper/internal/types"
)

// Type identifies a lifecycle event
type Type string

const (
	// Router lifecycle
	TypeMatch   Type = "match"
	TypeNoMatch Type = "no-match"
	TypeSuccess Type = "success"
	TypeError   Type = "error"

	// Gate lifecycle
	TypeGatePending          Type = "gate-pending"
	TypeGateResolved         Type = "gate-resolved"
	TypeVerificationFailed   Type = "verification-failed"
	TypeVerificationRejected Type = "verification-rejected"

	// Improvement loop lifecycle
	TypeNewProposal      Type = "new-proposal"
	TypeAnalysisComplete Type = "analysis-complete"
	TypeProposalApproved Type = "proposal-approved"
	TypeProposalRejected Type = "proposal-rejected"
	TypeProposalApplied  Type = "proposal-applied"

	// Auto-fix lifecycle
	TypeFixGenerating    Type = "fix-generating"
	TypeFixReady         Type = "fix-ready"
	TypeFixFailed        Type = "fix-failed"
	TypeFixApproved      Type = "fix-approved"
	TypeFixRejected      Type = "fix-rejected"
	TypeFixTesting       Type = "fix-testing"
	TypeFixDeployed      Type = "fix-deployed"
	TypeFixRolledBack    Type = "fix-rolled-back"
	TypePipelineComplete Type = "pipeline-complete"
)

// Event is one emitted lifecycle record.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Skill     string         `json:"skill,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine; they must not block.
type Handler func(*Event)

// Emitter is a minimal typed fanout. An error sink is pre-bound so the
// conventional first "error" emission never crashes the process.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewEmitter creates an emitter with the error sink pre-bound.
func NewEmitter() *Emitter {
	e := &Emitter{handlers: make(map[Type][]Handler)}
	e.On(TypeError, func(ev *Event) {
		log.Printf("[EVENTS] error event for skill %q: %v", ev.Skill, ev.Data["message"])
	})
	return e
}

// On registers a handler for an event type. Registration order is emission order.
func (e *Emitter) On(t Type, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
}

// Emit builds an event and delivers it to every handler registered for its
// type, in registration order.
func (e *Emitter) Emit(t Type, skill string, data map[string]any) *Event {
	ev := &Event{
		ID:        types.NewID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Skill:     skill,
		Data:      data,
	}
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[t]))
	copy(handlers, e.handlers[t])
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return ev
}
