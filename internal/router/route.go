package router

import (
	"context"
	"fmt"
	"regexp"

	"skillkeeper/internal/types"
)

// Match carries a matched route invocation into its handler.
type Match struct {
	Route   *Route
	Message string
	Groups  []string // regexp submatches, group 0 is the full match
	Context map[string]any
}

// Handler is the callable bound to a route.
type Handler func(ctx context.Context, m *Match) (any, error)

// PreCheck is a route-scoped predicate evaluated before the handler.
// A false result short-circuits execution with the returned reason.
type PreCheck func(ctx context.Context, m *Match) (bool, string)

// Route is a declarative skill binding. Routes are added imperatively and
// never mutated afterwards except via SetEnabled.
type Route struct {
	Name        string
	Patterns    []string
	Aliases     []string // expanded into exact-match patterns
	Handler     Handler
	Agent       string
	Priority    int             // lower sorts earlier; see types.Priority* tiers
	Risk        types.RiskLevel
	AutoExecute *bool // nil defaults to false for high/critical risk, true otherwise
	PreChecks   []PreCheck
	Enabled     bool

	compiled []*regexp.Regexp
}

// compile validates the route and builds its pattern list. Aliases become
// case-insensitive exact-match patterns appended after the declared patterns.
func (r *Route) compile() error {
	if r.Name == "" {
		return fmt.Errorf("route name is required")
	}
	if r.Handler == nil {
		return fmt.Errorf("route %s: handler is required", r.Name)
	}
	if len(r.Patterns) == 0 && len(r.Aliases) == 0 {
		return fmt.Errorf("route %s: at least one pattern or alias is required", r.Name)
	}
	if r.Risk == "" {
		r.Risk = types.RiskNone
	}
	if !r.Risk.IsValid() {
		return fmt.Errorf("route %s: invalid risk level %q", r.Name, r.Risk)
	}
	if r.AutoExecute == nil {
		auto := r.Risk != types.RiskHigh && r.Risk != types.RiskCritical
		r.AutoExecute = &auto
	}

	r.compiled = r.compiled[:0]
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("route %s: invalid pattern %q: %w", r.Name, p, err)
		}
		r.compiled = append(r.compiled, re)
	}
	for _, a := range r.Aliases {
		re, err := regexp.Compile(`(?i)^\s*` + regexp.QuoteMeta(a) + `\s*$`)
		if err != nil {
			return fmt.Errorf("route %s: invalid alias %q: %w", r.Name, a, err)
		}
		r.compiled = append(r.compiled, re)
	}
	return nil
}

// match tests each pattern in declared order and returns the first submatch.
func (r *Route) match(message string) []string {
	for _, re := range r.compiled {
		if groups := re.FindStringSubmatch(message); groups != nil {
			return groups
		}
	}
	return nil
}
