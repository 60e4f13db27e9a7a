package gates

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/router"
	"skillkeeper/internal/types"
)

// End-to-end pipeline: message -> match -> plan gate -> handler -> verify gate.
func TestGateMiddlewarePipeline(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	emitter := events.NewEmitter()

	e, err := New(&Config{
		Dir:     filepath.Join(dir, "audit-trail"),
		Logger:  logger,
		Emitter: emitter,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer e.Close()

	r, err := router.New(&router.Config{Logger: logger, Emitter: emitter})
	require.NoError(t, err)
	r.Use(PlanMiddleware(e))
	r.UsePost(VerifyMiddleware(e))

	require.NoError(t, r.Add(&router.Route{
		Name:     "deploy",
		Patterns: []string{`(?i)^deploy (\S+)$`},
		Priority: types.PriorityHigh,
		Risk:     types.RiskHigh,
		Enabled:  true,
		Handler: func(ctx context.Context, m *router.Match) (any, error) {
			return map[string]any{"version": m.Groups[1], "status": "deployed"}, nil
		},
	}))

	// Approve both gates as they come in.
	emitter.On(events.TypeGatePending, func(ev *events.Event) {
		go e.Approve(ev.Data["gateId"].(string), nil)
	})

	outcome := r.Route(context.Background(), "deploy v2.0.1", map[string]any{"userId": "u1"})
	require.True(t, outcome.Matched)
	assert.True(t, outcome.OK)
}

func TestPlanMiddlewareRejectionAborts(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	emitter := events.NewEmitter()

	e, err := New(&Config{
		Dir:     filepath.Join(dir, "audit-trail"),
		Logger:  logger,
		Emitter: emitter,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer e.Close()

	r, err := router.New(&router.Config{Logger: logger, Emitter: emitter})
	require.NoError(t, err)
	r.Use(PlanMiddleware(e))

	ran := false
	require.NoError(t, r.Add(&router.Route{
		Name:     "deploy",
		Patterns: []string{`^deploy$`},
		Priority: types.PriorityHigh,
		Risk:     types.RiskHigh,
		Enabled:  true,
		Handler: func(ctx context.Context, m *router.Match) (any, error) {
			ran = true
			return nil, nil
		},
	}))

	emitter.On(events.TypeGatePending, func(ev *events.Event) {
		go e.Reject(ev.Data["gateId"].(string), "not during trading hours")
	})

	outcome := r.Route(context.Background(), "deploy", nil)
	assert.False(t, ran, "rejected plan must abort before the handler")
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.PreCheckFailed, "not during trading hours")
}
