// Package router matches incoming messages to skills and captures every
// outcome. It exposes one asynchronous entry point, Route, whose pipeline is
// linear: match, pre-middleware, pre-checks, handler (wrapped by the error
// logger), post-middleware, event emission.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
)

// NoMatchError is the fixed error carried by an unmatched outcome.
const NoMatchError = "No matching route"

// AbortError is returned by a middleware that deliberately short-circuits the
// pipeline (the plan-gate integration path). Any other middleware error is
// logged against a pseudo-skill and does not abort the call.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string { return e.Reason }

// Abort builds an AbortError.
func Abort(reason string) error { return &AbortError{Reason: reason} }

// Middleware runs before or after the handler. Pre middleware may abort the
// pipeline by returning an AbortError.
type Middleware func(ctx context.Context, mc *MiddlewareContext) error

// MiddlewareContext is the mutable state handed through the middleware chain.
type MiddlewareContext struct {
	Match   *Match
	Outcome *Outcome // nil for pre middleware
}

// Outcome is the typed result of one routed message.
type Outcome struct {
	Matched        bool            `json:"matched"`
	Route          string          `json:"route,omitempty"`
	OK             bool            `json:"ok"`
	Result         any             `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Entry          *errorlog.Entry `json:"entry,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	PreCheckFailed string          `json:"pre_check_failed,omitempty"`
	FallbackUsed   bool            `json:"fallback_used,omitempty"`
}

// Config holds router configuration
type Config struct {
	Logger  *errorlog.Logger // required
	Emitter *events.Emitter  // optional; a fresh emitter is created if nil
}

// Router holds an ordered, prioritized list of skills.
type Router struct {
	mu        sync.RWMutex
	logger    *errorlog.Logger
	emitter   *events.Emitter
	routes    []*Route
	pre       []Middleware
	post      []Middleware
	fallback  Handler
	analytics *analytics
}

// New creates a router backed by the given error logger.
func New(cfg *Config) (*Router, error) {
	if cfg == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Router{
		logger:    cfg.Logger,
		emitter:   emitter,
		analytics: newAnalytics(),
	}, nil
}

// Emitter returns the router's event emitter for subscriber registration.
func (r *Router) Emitter() *events.Emitter { return r.emitter }

// Add compiles and registers a route, keeping the list ordered by priority.
// Registration order is preserved within a priority tier.
func (r *Router) Add(route *Route) error {
	if route == nil {
		return fmt.Errorf("route is required")
	}
	if err := route.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.routes {
		if existing.Name == route.Name {
			return fmt.Errorf("route %s already registered", route.Name)
		}
	}
	r.routes = append(r.routes, route)
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].Priority < r.routes[j].Priority
	})
	return nil
}

// SetEnabled flips a route's enabled flag. Returns false for unknown names.
func (r *Router) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, route := range r.routes {
		if route.Name == name {
			route.Enabled = enabled
			return true
		}
	}
	return false
}

// Routes returns a snapshot of registered route names in priority order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Use registers a pre middleware; UsePost registers a post middleware.
// Middleware runs in registration order.
func (r *Router) Use(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pre = append(r.pre, m)
}

// UsePost registers a post middleware.
func (r *Router) UsePost(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post = append(r.post, m)
}

// SetFallback installs the handler invoked when no route matches.
func (r *Router) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Route turns an opaque message into a typed outcome. Handler failures are
// recovered by the logger wrapper and never propagate past this call.
func (r *Router) Route(ctx context.Context, message string, rctx map[string]any) *Outcome {
	trimmed := strings.TrimSpace(message)

	route, groups := r.matchRoute(trimmed)
	if route == nil {
		return r.routeUnmatched(ctx, trimmed, rctx)
	}

	r.analytics.recordHit(route.Name)
	m := &Match{Route: route, Message: trimmed, Groups: groups, Context: rctx}
	outcome := &Outcome{Matched: true, Route: route.Name}

	// Pre middleware. An AbortError short-circuits and is reported as a
	// pre-check failure; anything else is logged and the call continues.
	for _, mw := range r.preMiddleware() {
		if err := mw(ctx, &MiddlewareContext{Match: m}); err != nil {
			var abort *AbortError
			if errors.As(err, &abort) {
				outcome.PreCheckFailed = abort.Reason
				outcome.Error = abort.Reason
				r.analytics.recordExecution(route.Name, false, 0)
				r.finish(ctx, m, outcome)
				return outcome
			}
			if _, capErr := r.logger.CaptureError(errorlog.Capture{
				Err:   err,
				Skill: "middleware-pre",
				Input: trimmed,
			}); capErr != nil {
				log.Printf("[ROUTER] failed to log pre-middleware error: %v", capErr)
			}
		}
	}

	// Route-scoped pre-checks.
	for _, check := range route.PreChecks {
		if pass, reason := check(ctx, m); !pass {
			outcome.PreCheckFailed = reason
			outcome.Error = reason
			r.analytics.recordExecution(route.Name, false, 0)
			r.finish(ctx, m, outcome)
			return outcome
		}
	}

	start := time.Now()
	result, entry, err := r.logger.Exec(ctx, route.Name, route.Agent, route.Risk.Severity(),
		trimmed, nil, func(ctx context.Context) (any, error) {
			return route.Handler(ctx, m)
		})
	duration := time.Since(start)

	outcome.DurationMS = duration.Milliseconds()
	outcome.Entry = entry
	if err != nil {
		outcome.Error = err.Error()
	} else {
		outcome.OK = true
		outcome.Result = result
	}
	r.analytics.recordExecution(route.Name, outcome.OK, duration)

	r.finish(ctx, m, outcome)
	return outcome
}

// finish runs the post-middleware chain and then emits lifecycle events.
// Emission happens strictly after the post-middleware chain completes.
func (r *Router) finish(ctx context.Context, m *Match, outcome *Outcome) {
	for _, mw := range r.postMiddleware() {
		if err := mw(ctx, &MiddlewareContext{Match: m, Outcome: outcome}); err != nil {
			if _, capErr := r.logger.CaptureError(errorlog.Capture{
				Err:   err,
				Skill: "middleware-post",
				Input: m.Message,
			}); capErr != nil {
				log.Printf("[ROUTER] failed to log post-middleware error: %v", capErr)
			}
		}
	}

	r.emitter.Emit(events.TypeMatch, m.Route.Name, map[string]any{
		"message": m.Message,
	})
	if outcome.OK {
		r.emitter.Emit(events.TypeSuccess, m.Route.Name, map[string]any{
			"duration_ms": outcome.DurationMS,
		})
	} else {
		r.emitter.Emit(events.TypeError, m.Route.Name, map[string]any{
			"message": outcome.Error,
			"entry":   outcome.Entry,
		})
	}
}

func (r *Router) routeUnmatched(ctx context.Context, message string, rctx map[string]any) *Outcome {
	r.analytics.recordUnmatched(message)
	outcome := &Outcome{Matched: false, Error: NoMatchError}

	r.mu.RLock()
	fallback := r.fallback
	r.mu.RUnlock()

	if fallback != nil {
		result, err := fallback(ctx, &Match{Message: message, Context: rctx})
		outcome.FallbackUsed = true
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.OK = true
			outcome.Result = result
			outcome.Error = ""
		}
	}

	r.emitter.Emit(events.TypeNoMatch, "", map[string]any{"message": message})
	return outcome
}

func (r *Router) matchRoute(message string) (*Route, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if !route.Enabled {
			continue
		}
		if groups := route.match(message); groups != nil {
			return route, groups
		}
	}
	return nil, nil
}

func (r *Router) preMiddleware() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Middleware, len(r.pre))
	copy(out, r.pre)
	return out
}

func (r *Router) postMiddleware() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Middleware, len(r.post))
	copy(out, r.post)
	return out
}

// Dispatch invokes each named route's handler concurrently over a shared
// input. Unknown names produce a per-name error without aborting the others.
// Result and error maps are populated deterministically by name.
func (r *Router) Dispatch(ctx context.Context, names []string, input string, rctx map[string]any) (map[string]any, map[string]error) {
	results := make(map[string]any)
	errs := make(map[string]error)
	var mu sync.Mutex

	byName := make(map[string]*Route)
	r.mu.RLock()
	for _, route := range r.routes {
		byName[route.Name] = route
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		route, ok := byName[name]
		if !ok {
			mu.Lock()
			errs[name] = fmt.Errorf("unknown route: %s", name)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			m := &Match{Route: route, Message: input, Groups: []string{input}, Context: rctx}
			result, _, err := r.logger.Exec(gctx, route.Name, route.Agent, route.Risk.Severity(),
				input, nil, func(ctx context.Context) (any, error) {
					return route.Handler(ctx, m)
				})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[route.Name] = err
			} else {
				results[route.Name] = result
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures land in errs
	return results, errs
}
