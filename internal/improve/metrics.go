package improve

import (
	"skillkeeper/internal/types"
)

// Snapshot is one point of the bounded metrics history, taken at the end of
// each analysis cycle.
type Snapshot struct {
	Timestamp   string  `json:"timestamp"`
	Days        int     `json:"days"`
	ErrorRate   float64 `json:"error_rate"`
	TotalErrors int     `json:"total_errors"`
	TotalRouted int     `json:"total_routed"`
	MissCount   int     `json:"miss_count"`
	Insights    int     `json:"insights"`
	Corrections int     `json:"corrections"`
	Pending     int     `json:"pending_proposals"`
}

func (l *Loop) snapshot(days int, insights []*Insight) (*Snapshot, error) {
	report, err := l.logger.Report(days)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Timestamp:   types.Timestamp(l.now()),
		Days:        days,
		ErrorRate:   report.ErrorRate,
		TotalErrors: report.TotalErrors,
		Insights:    len(insights),
	}

	if l.router != nil {
		summary := l.router.Analytics()
		for _, rs := range summary.Routes {
			s.TotalRouted += rs.Executions
		}
		s.MissCount = len(l.router.Unmatched())
	}

	l.mu.Lock()
	s.Corrections = len(l.corrections)
	for _, p := range l.proposals {
		if p.Status == ProposalPending {
			s.Pending++
		}
	}
	l.mu.Unlock()
	return s, nil
}

// Metrics returns a copy of the snapshot history, oldest first.
func (l *Loop) Metrics() []*Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Snapshot, len(l.metrics))
	copy(out, l.metrics)
	return out
}

// TrendDirection summarizes where the error rate is heading.
type TrendDirection string

const (
	TrendImproving    TrendDirection = "improving"
	TrendStable       TrendDirection = "stable"
	TrendDegrading    TrendDirection = "degrading"
	TrendInsufficient TrendDirection = "insufficient_data"
)

// Trend compares the latest error rate against the earliest of the last
// four snapshots. A latest rate at or below 0.8x the earliest is improving;
// at or above 1.2x is degrading.
func (l *Loop) Trend() TrendDirection {
	history := l.Metrics()
	if len(history) < 2 {
		return TrendInsufficient
	}
	if len(history) > 4 {
		history = history[len(history)-4:]
	}

	latest := history[len(history)-1].ErrorRate
	earliest := history[0].ErrorRate

	switch {
	case earliest == 0:
		if latest > 0 {
			return TrendDegrading
		}
		return TrendStable
	case latest <= earliest*0.8:
		return TrendImproving
	case latest >= earliest*1.2:
		return TrendDegrading
	default:
		return TrendStable
	}
}
