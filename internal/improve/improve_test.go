package improve

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/gates"
	"skillkeeper/internal/router"
	"skillkeeper/internal/types"
)

const connRefusedStack = `Error: connect ECONNREFUSED 127.0.0.1:8032
    at TCPConnectWrap.afterConnect (node:net:1300:16)
    at processTicksAndRejections (node:internal/process/task_queues:84:21)`

func newTestLoop(t *testing.T, cfg Config) (*Loop, *errorlog.Logger) {
	t.Helper()
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)

	cfg.Dir = filepath.Join(dir, "improvement-data")
	cfg.Logger = logger
	l, err := New(&cfg)
	require.NoError(t, err)
	return l, logger
}

// Repeated identical errors become one insight and one pending proposal.
func TestRecurringErrorBecomesProposal(t *testing.T) {
	l, logger := newTestLoop(t, Config{})

	for i := 0; i < 4; i++ {
		_, err := logger.CaptureError(errorlog.Capture{
			Err: &errorlog.SkillError{
				Message: "connect ECONNREFUSED 127.0.0.1:8032",
				Stack:   connRefusedStack,
			},
			Skill: "price-tracker",
		})
		require.NoError(t, err)
	}

	insights, err := l.Analyze(7)
	require.NoError(t, err)

	var patterns []*Insight
	for _, in := range insights {
		if in.Type == InsightErrorPattern {
			patterns = append(patterns, in)
		}
	}
	require.Len(t, patterns, 1, "identical errors share one fingerprint")
	assert.Equal(t, types.SeverityMedium, patterns[0].Severity)
	assert.Equal(t, "price-tracker", patterns[0].Skill)
	assert.Equal(t, 4, patterns[0].Data["count"])

	_, err = l.GenerateProposals()
	require.NoError(t, err)

	pending := l.Proposals(ProposalFilter{Status: ProposalPending, Skill: "price-tracker"})
	require.Len(t, pending, 1)
	assert.Equal(t, "add_error_handling", pending[0].Action)
	assert.Equal(t, types.SeverityMedium, pending[0].Severity)
}

// Corrections sharing a reason trip the threshold immediately, without
// waiting for an analysis cycle.
func TestCorrectionThresholdProposesImmediately(t *testing.T) {
	l, _ := newTestLoop(t, Config{CorrectionThreshold: 2})

	_, err := l.RecordCorrection("risk-scorer", 85, 30, "Wrong risk score", nil)
	require.NoError(t, err)
	require.Empty(t, l.Proposals(ProposalFilter{Status: ProposalPending}))

	_, err = l.RecordCorrection("risk-scorer", 90, 25, "wrong risk score", nil)
	require.NoError(t, err)

	pending := l.Proposals(ProposalFilter{Status: ProposalPending})
	require.Len(t, pending, 1)
	assert.Equal(t, "update_skill_logic", pending[0].Action)
	assert.Equal(t, types.SeverityHigh, pending[0].Severity)
	assert.Equal(t, "wrong risk score", pending[0].Data["commonReason"])
}

func TestExactlyThresholdCorrectionsYieldOneProposal(t *testing.T) {
	l, _ := newTestLoop(t, Config{})

	for i := 0; i < 3; i++ {
		_, err := l.RecordCorrection("summarizer", "a", "b", "too verbose", nil)
		require.NoError(t, err)
	}
	// A fourth correction past the threshold must not open a second proposal.
	_, err := l.RecordCorrection("summarizer", "a", "b", "too verbose", nil)
	require.NoError(t, err)

	assert.Len(t, l.Proposals(ProposalFilter{Status: ProposalPending}), 1)
}

// Unmatched messages that share vocabulary cluster into a new_route insight.
func TestUnmatchedMessagesClusterIntoRouteCandidate(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	r, err := router.New(&router.Config{Logger: logger})
	require.NoError(t, err)

	l, err := New(&Config{
		Dir:    filepath.Join(dir, "improvement-data"),
		Logger: logger,
		Router: r,
	})
	require.NoError(t, err)

	for _, msg := range []string{
		"price check BTC", "price check ETH", "price check SOL",
		"price check DOGE", "price check ADA",
	} {
		r.Route(context.Background(), msg, nil)
	}

	insights, err := l.Analyze(7)
	require.NoError(t, err)

	var routes []*Insight
	for _, in := range insights {
		if in.Type == InsightNewRoute {
			routes = append(routes, in)
		}
	}
	require.Len(t, routes, 1)
	assert.Equal(t, types.SeverityMedium, routes[0].Severity)
	assert.Equal(t, "price check BTC", routes[0].Data["representative"])
	assert.Equal(t, "price.*check", routes[0].Data["pattern"])
	assert.Len(t, routes[0].Data["examples"], 5)
}

// A registered route that never matched anything shows up as unused on the
// next analysis cycle.
func TestUnhitRouteYieldsUnusedRouteInsight(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	r, err := router.New(&router.Config{Logger: logger})
	require.NoError(t, err)

	require.NoError(t, r.Add(&router.Route{
		Name:     "weather",
		Patterns: []string{`(?i)weather`},
		Enabled:  true,
		Handler:  func(ctx context.Context, m *router.Match) (any, error) { return "sunny", nil },
	}))
	require.NoError(t, r.Add(&router.Route{
		Name:     "price-tracker",
		Patterns: []string{`(?i)price`},
		Enabled:  true,
		Handler:  func(ctx context.Context, m *router.Match) (any, error) { return 42, nil },
	}))

	r.Route(context.Background(), "weather in Lisbon", nil)

	l, err := New(&Config{
		Dir:    filepath.Join(dir, "improvement-data"),
		Logger: logger,
		Router: r,
	})
	require.NoError(t, err)

	insights, err := l.Analyze(7)
	require.NoError(t, err)

	var unused []*Insight
	for _, in := range insights {
		if in.Type == InsightUnusedRoute {
			unused = append(unused, in)
		}
	}
	require.Len(t, unused, 1)
	assert.Equal(t, "price-tracker", unused[0].Skill)
	assert.Equal(t, types.SeverityLow, unused[0].Severity)
}

// Gate decision statistics drive both risk-adjustment directions and the
// plan-expiry skill_update insight.
func TestGateStatsBecomeRiskAdjustments(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)

	// Seed today's audit file: weather has five clean approvals, trader three
	// rejections, and four of the twelve plan gates expired (over 30%).
	auditDir := filepath.Join(dir, "audit-trail")
	require.NoError(t, os.MkdirAll(auditDir, 0o755))
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, `{"gate":"gate1","skill":"weather","status":"approved","risk":"low"}`)
	}
	for i := 0; i < 3; i++ {
		lines = append(lines, `{"gate":"gate1","skill":"trader","status":"rejected","risk":"high"}`)
	}
	for i := 0; i < 4; i++ {
		lines = append(lines, `{"gate":"gate1","skill":"flaky","status":"expired","risk":"medium"}`)
	}
	day := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, os.WriteFile(filepath.Join(auditDir, day+".json"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0o644))

	engine, err := gates.New(&gates.Config{Dir: auditDir, Logger: logger})
	require.NoError(t, err)
	defer engine.Close()

	l, err := New(&Config{
		Dir:    filepath.Join(dir, "improvement-data"),
		Logger: logger,
		Gates:  engine,
	})
	require.NoError(t, err)

	insights, err := l.Analyze(7)
	require.NoError(t, err)

	var adjustments, updates []*Insight
	for _, in := range insights {
		switch in.Type {
		case InsightRiskAdjustment:
			adjustments = append(adjustments, in)
		case InsightSkillUpdate:
			updates = append(updates, in)
		}
	}

	require.Len(t, adjustments, 2)
	assert.Equal(t, "weather", adjustments[0].Skill)
	assert.Equal(t, "lower", adjustments[0].Data["direction"])
	assert.Equal(t, types.SeverityLow, adjustments[0].Severity)
	assert.Equal(t, "trader", adjustments[1].Skill)
	assert.Equal(t, "raise", adjustments[1].Data["direction"])
	assert.Equal(t, types.SeverityMedium, adjustments[1].Severity)

	require.Len(t, updates, 1)
	assert.InDelta(t, 1.0/3.0, updates[0].Data["planExpiredRate"], 1e-9)
}

// Negative feedback is translated into an anonymous correction; positive
// feedback is dropped.
func TestNegativeFeedbackBecomesCorrection(t *testing.T) {
	l, _ := newTestLoop(t, Config{CorrectionThreshold: 2})

	require.NoError(t, l.RecordFeedback("summarizer", 5, "great"))
	require.NoError(t, l.RecordFeedback("summarizer", "up", ""))
	assert.Empty(t, l.Corrections())

	require.NoError(t, l.RecordFeedback("summarizer", 1, "way too long"))
	require.NoError(t, l.RecordFeedback("summarizer", "down", "Way too long"))

	corrections := l.Corrections()
	require.Len(t, corrections, 2)
	assert.Equal(t, corrections[0].PatternHash, corrections[1].PatternHash)
	assert.Equal(t, "feedback", corrections[0].Context["source"])

	// The shared reason trips the correction threshold immediately.
	pending := l.Proposals(ProposalFilter{Status: ProposalPending})
	require.Len(t, pending, 1)
	assert.Equal(t, "update_skill_logic", pending[0].Action)

	// A down vote without a comment still records.
	require.NoError(t, l.RecordFeedback("fetcher", "down", ""))
	assert.Equal(t, "negative feedback", l.Corrections()[2].Reason)
}

func TestProposalUniquenessPerTypeAndSkill(t *testing.T) {
	l, _ := newTestLoop(t, Config{})

	created := 0
	l.Emitter().On(events.TypeNewProposal, func(*events.Event) { created++ })

	insight := &Insight{
		ID:       types.NewID(),
		Type:     InsightErrorPattern,
		Severity: types.SeverityMedium,
		Skill:    "fetcher",
		Message:  "recurring timeout",
	}
	first, err := l.createProposal(insight)
	require.NoError(t, err)
	second, err := l.createProposal(insight)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, created)

	// Resolving the pending proposal reopens the pair.
	_, err = l.Reject(first.ID, "not actionable")
	require.NoError(t, err)
	third, err := l.createProposal(insight)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestProposalLifecycleStamps(t *testing.T) {
	l, _ := newTestLoop(t, Config{})

	p, err := l.createProposal(&Insight{
		ID:       types.NewID(),
		Type:     InsightRiskAdjustment,
		Severity: types.SeverityLow,
		Skill:    "deploy",
		Message:  "risk can be lowered",
	})
	require.NoError(t, err)
	assert.True(t, p.AutoApplicable)

	approved, err := l.Approve(p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalApproved, approved.Status)
	assert.NotEmpty(t, approved.ApprovedAt)

	applied, err := l.MarkApplied(p.ID, "risk lowered to medium")
	require.NoError(t, err)
	assert.Equal(t, ProposalApplied, applied.Status)
	assert.NotEmpty(t, applied.AppliedAt)
	assert.Equal(t, "risk lowered to medium", applied.Notes)

	_, err = l.Approve("nope")
	assert.Error(t, err)
}

// Corrections and proposals survive a restart from the same directory.
func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	dataDir := filepath.Join(dir, "improvement-data")

	l, err := New(&Config{Dir: dataDir, Logger: logger, CorrectionThreshold: 2})
	require.NoError(t, err)
	_, err = l.RecordCorrection("risk-scorer", 85, 30, "wrong risk score", nil)
	require.NoError(t, err)
	_, err = l.RecordCorrection("risk-scorer", 90, 25, "wrong risk score", nil)
	require.NoError(t, err)

	reloaded, err := New(&Config{Dir: dataDir, Logger: logger, CorrectionThreshold: 2})
	require.NoError(t, err)
	assert.Len(t, reloaded.Corrections(), 2)

	pending := reloaded.Proposals(ProposalFilter{Status: ProposalPending})
	require.Len(t, pending, 1)
	assert.Equal(t, "update_skill_logic", pending[0].Action)
}

func TestTrend(t *testing.T) {
	dir := t.TempDir()
	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	dataDir := filepath.Join(dir, "improvement-data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	seed := func(rates []float64) *Loop {
		var snaps []*Snapshot
		for _, rate := range rates {
			snaps = append(snaps, &Snapshot{ErrorRate: rate})
		}
		b, err := json.Marshal(snaps)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, metricsFile), b, 0o644))
		l, err := New(&Config{Dir: dataDir, Logger: logger})
		require.NoError(t, err)
		return l
	}

	assert.Equal(t, TrendInsufficient, seed([]float64{0.2}).Trend())
	assert.Equal(t, TrendImproving, seed([]float64{0.3, 0.3, 0.3, 0.1}).Trend())
	assert.Equal(t, TrendDegrading, seed([]float64{0.1, 0.1, 0.1, 0.3}).Trend())
	assert.Equal(t, TrendStable, seed([]float64{0.2, 0.2, 0.2, 0.21}).Trend())
	// The verdict compares latest against the earliest of the window, so
	// uneven rates in between must not tilt it.
	assert.Equal(t, TrendStable, seed([]float64{0.5, 0.1, 0.1, 0.41}).Trend())
	assert.Equal(t, TrendImproving, seed([]float64{0.5, 0.1, 0.9, 0.4}).Trend())
	assert.Equal(t, TrendDegrading, seed([]float64{0.0, 0.1, 0.1, 0.1}).Trend())
	// Only the last four snapshots count.
	assert.Equal(t, TrendImproving, seed([]float64{0.0, 0.0, 0.3, 0.3, 0.3, 0.1}).Trend())
}

func TestClusterMessages(t *testing.T) {
	clusters := clusterMessages([]string{
		"price check BTC",
		"check price for ETH",
		"restart the trading bot",
		"price check SOL",
	})
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0].Members, 3)
	assert.Equal(t, "price check BTC", clusters[0].Representative)
	assert.ElementsMatch(t, []string{"price", "check"}, clusters[0].Keywords)
}
