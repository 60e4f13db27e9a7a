package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(t.TempDir(), "errors")})
	require.NoError(t, err)
	r, err := New(&Config{Logger: logger})
	require.NoError(t, err)
	return r
}

func echoRoute(name, pattern string, priority int) *Route {
	return &Route{
		Name:     name,
		Patterns: []string{pattern},
		Priority: priority,
		Enabled:  true,
		Handler: func(ctx context.Context, m *Match) (any, error) {
			return name, nil
		},
	}
}

func TestRoutePriorityOrder(t *testing.T) {
	r := newTestRouter(t)
	// Registered low-priority first; the numerically lower priority must win.
	require.NoError(t, r.Add(echoRoute("fallback-catch", `.*`, types.PriorityFallback)))
	require.NoError(t, r.Add(echoRoute("price-check", `(?i)price`, types.PriorityNormal)))

	outcome := r.Route(context.Background(), "price check BTC", nil)
	assert.True(t, outcome.Matched)
	assert.Equal(t, "price-check", outcome.Route)
}

func TestPatternDeclarationOrder(t *testing.T) {
	r := newTestRouter(t)
	var matched []string
	route := &Route{
		Name:     "multi",
		Patterns: []string{`^alpha (\w+)$`, `^alpha.*$`},
		Priority: types.PriorityNormal,
		Enabled:  true,
		Handler: func(ctx context.Context, m *Match) (any, error) {
			matched = m.Groups
			return nil, nil
		},
	}
	require.NoError(t, r.Add(route))

	outcome := r.Route(context.Background(), "  alpha beta  ", nil)
	assert.True(t, outcome.Matched)
	// First declared pattern matches and its groups pass through intact.
	require.Len(t, matched, 2)
	assert.Equal(t, "beta", matched[1])
}

func TestAliasExpansion(t *testing.T) {
	r := newTestRouter(t)
	route := echoRoute("balance", `(?i)^show balance$`, types.PriorityNormal)
	route.Aliases = []string{"bal"}
	require.NoError(t, r.Add(route))

	outcome := r.Route(context.Background(), "BAL", nil)
	assert.True(t, outcome.Matched)
	assert.Equal(t, "balance", outcome.Route)
}

func TestDisabledRouteSkipped(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("price-check", `price`, types.PriorityNormal)))
	require.True(t, r.SetEnabled("price-check", false))

	outcome := r.Route(context.Background(), "price check", nil)
	assert.False(t, outcome.Matched)
	assert.Equal(t, NoMatchError, outcome.Error)
}

func TestNoMatchAndFallback(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("price-check", `^price$`, types.PriorityNormal)))

	outcome := r.Route(context.Background(), "weather in tokyo", nil)
	assert.False(t, outcome.Matched)
	assert.Equal(t, NoMatchError, outcome.Error)

	r.SetFallback(func(ctx context.Context, m *Match) (any, error) {
		return "fallback:" + m.Message, nil
	})
	outcome = r.Route(context.Background(), "weather in osaka", nil)
	assert.False(t, outcome.Matched)
	assert.True(t, outcome.FallbackUsed)
	assert.True(t, outcome.OK)
	assert.Equal(t, "fallback:weather in osaka", outcome.Result)
}

func TestHandlerErrorRecovered(t *testing.T) {
	r := newTestRouter(t)
	route := &Route{
		Name:     "flaky",
		Patterns: []string{`^flaky$`},
		Priority: types.PriorityNormal,
		Risk:     types.RiskHigh,
		Enabled:  true,
		Handler: func(ctx context.Context, m *Match) (any, error) {
			return nil, errors.New("fetch failed")
		},
	}
	require.NoError(t, r.Add(route))

	outcome := r.Route(context.Background(), "flaky", nil)
	assert.True(t, outcome.Matched)
	assert.False(t, outcome.OK)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, errorlog.KindError, outcome.Entry.Kind)
	// Risk high maps to severity high when the handler gives no override.
	assert.Equal(t, types.SeverityHigh, outcome.Entry.Severity)
}

func TestPreCheckShortCircuits(t *testing.T) {
	r := newTestRouter(t)
	ran := false
	route := &Route{
		Name:     "guarded",
		Patterns: []string{`^go$`},
		Priority: types.PriorityNormal,
		Enabled:  true,
		PreChecks: []PreCheck{
			func(ctx context.Context, m *Match) (bool, string) { return false, "market closed" },
		},
		Handler: func(ctx context.Context, m *Match) (any, error) {
			ran = true
			return nil, nil
		},
	}
	require.NoError(t, r.Add(route))

	outcome := r.Route(context.Background(), "go", nil)
	assert.False(t, ran)
	assert.False(t, outcome.OK)
	assert.Equal(t, "market closed", outcome.PreCheckFailed)
}

func TestMiddlewareAbortReportedAsPreCheckFailure(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("s", `^s$`, types.PriorityNormal)))
	r.Use(func(ctx context.Context, mc *MiddlewareContext) error {
		return Abort("plan rejected")
	})

	outcome := r.Route(context.Background(), "s", nil)
	assert.True(t, outcome.Matched)
	assert.False(t, outcome.OK)
	assert.Equal(t, "plan rejected", outcome.PreCheckFailed)
}

func TestMiddlewareErrorDoesNotAbort(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("s", `^s$`, types.PriorityNormal)))
	r.Use(func(ctx context.Context, mc *MiddlewareContext) error {
		return errors.New("telemetry sink unavailable")
	})

	outcome := r.Route(context.Background(), "s", nil)
	assert.True(t, outcome.OK, "non-abort middleware failures must not abort the call")
}

func TestPostMiddlewareSeesOutcomeBeforeEvents(t *testing.T) {
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(t.TempDir(), "errors")})
	require.NoError(t, err)
	emitter := events.NewEmitter()
	r, err := New(&Config{Logger: logger, Emitter: emitter})
	require.NoError(t, err)
	require.NoError(t, r.Add(echoRoute("s", `^s$`, types.PriorityNormal)))

	var sequence []string
	r.UsePost(func(ctx context.Context, mc *MiddlewareContext) error {
		require.NotNil(t, mc.Outcome)
		sequence = append(sequence, "post")
		return nil
	})
	emitter.On(events.TypeSuccess, func(*events.Event) { sequence = append(sequence, "event") })

	r.Route(context.Background(), "s", nil)
	assert.Equal(t, []string{"post", "event"}, sequence,
		"events fire strictly after post middleware")
}

func TestAnalyticsSummary(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("good", `^good$`, types.PriorityNormal)))
	require.NoError(t, r.Add(&Route{
		Name: "bad", Patterns: []string{`^bad$`}, Priority: types.PriorityNormal, Enabled: true,
		Handler: func(ctx context.Context, m *Match) (any, error) { return nil, errors.New("boom") },
	}))

	for i := 0; i < 3; i++ {
		r.Route(context.Background(), "good", nil)
	}
	r.Route(context.Background(), "bad", nil)
	r.Route(context.Background(), "no such thing", nil)

	s := r.Analytics()
	require.Contains(t, s.Routes, "good")
	assert.Equal(t, 3, s.Routes["good"].Hits)
	assert.Equal(t, 3, s.Routes["good"].Executions)
	assert.Equal(t, 100.0, s.Routes["good"].SuccessRate)
	assert.Equal(t, 0.0, s.Routes["bad"].SuccessRate)
	require.Len(t, s.LastUnmatched, 1)
	assert.Equal(t, "no such thing", s.LastUnmatched[0].Message)
}

func TestUnmatchedRingBounded(t *testing.T) {
	r := newTestRouter(t)
	for i := 0; i < 60; i++ {
		r.Route(context.Background(), fmt.Sprintf("unmatched %d", i), nil)
	}
	ring := r.Unmatched()
	assert.Len(t, ring, 50)
	assert.Equal(t, "unmatched 10", ring[0].Message, "oldest entries drop off")

	s := r.Analytics()
	assert.Len(t, s.LastUnmatched, 5)
	assert.Equal(t, "unmatched 59", s.LastUnmatched[4].Message)
}

func TestDispatchParallel(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("a", `^a$`, types.PriorityNormal)))
	require.NoError(t, r.Add(echoRoute("b", `^b$`, types.PriorityNormal)))
	require.NoError(t, r.Add(&Route{
		Name: "c", Patterns: []string{`^c$`}, Priority: types.PriorityNormal, Enabled: true,
		Handler: func(ctx context.Context, m *Match) (any, error) { return nil, errors.New("boom") },
	}))

	results, errs := r.Dispatch(context.Background(), []string{"a", "b", "c", "ghost"}, "shared input", nil)
	assert.Equal(t, "a", results["a"])
	assert.Equal(t, "b", results["b"])
	assert.Error(t, errs["c"])
	assert.Error(t, errs["ghost"], "unknown names error without aborting the others")
	assert.Len(t, results, 2)
}

func TestDuplicateRouteRejected(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.Add(echoRoute("dup", `^x$`, types.PriorityNormal)))
	assert.Error(t, r.Add(echoRoute("dup", `^y$`, types.PriorityNormal)))
}

func TestAutoExecuteDefaults(t *testing.T) {
	r := newTestRouter(t)
	high := echoRoute("high", `^h$`, types.PriorityNormal)
	high.Risk = types.RiskHigh
	low := echoRoute("low", `^l$`, types.PriorityNormal)
	low.Risk = types.RiskLow
	require.NoError(t, r.Add(high))
	require.NoError(t, r.Add(low))

	require.NotNil(t, high.AutoExecute)
	assert.False(t, *high.AutoExecute, "high risk defaults to manual execution")
	require.NotNil(t, low.AutoExecute)
	assert.True(t, *low.AutoExecute)
}
