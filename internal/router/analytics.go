package router

import (
	"math"
	"sync"
	"time"

	"skillkeeper/internal/types"
)

const unmatchedRingSize = 50

// ExecutionStats tracks per-route execution counters.
type ExecutionStats struct {
	Total           int   `json:"total"`
	Successes       int   `json:"successes"`
	Failures        int   `json:"failures"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}

// UnmatchedMessage is one entry of the unmatched-message ring.
type UnmatchedMessage struct {
	Message   string `json:"message"` // truncated to 100 chars
	Timestamp string `json:"timestamp"`
}

type analytics struct {
	mu         sync.Mutex
	hits       map[string]int
	executions map[string]*ExecutionStats
	unmatched  []UnmatchedMessage // bounded ring, newest last
}

func newAnalytics() *analytics {
	return &analytics{
		hits:       make(map[string]int),
		executions: make(map[string]*ExecutionStats),
	}
}

func (a *analytics) recordHit(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits[name]++
}

func (a *analytics) recordExecution(name string, ok bool, duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := a.executions[name]
	if stats == nil {
		stats = &ExecutionStats{}
		a.executions[name] = stats
	}
	stats.Total++
	if ok {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.TotalDurationMS += duration.Milliseconds()
}

func (a *analytics) recordUnmatched(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unmatched = append(a.unmatched, UnmatchedMessage{
		Message:   types.Truncate(message, 100),
		Timestamp: types.Timestamp(time.Now()),
	})
	if len(a.unmatched) > unmatchedRingSize {
		a.unmatched = a.unmatched[len(a.unmatched)-unmatchedRingSize:]
	}
}

// RouteSummary is the computed analytics view for one route.
type RouteSummary struct {
	Name          string  `json:"name"`
	Hits          int     `json:"hits"`
	Executions    int     `json:"executions"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	SuccessRate   float64 `json:"success_rate"`    // percentage, one decimal
	AvgDurationMS int64   `json:"avg_duration_ms"` // integer milliseconds
}

// Summary is the full analytics snapshot.
type Summary struct {
	Routes        map[string]*RouteSummary `json:"routes"`
	LastUnmatched []UnmatchedMessage       `json:"last_unmatched"` // last five
}

// Analytics computes per-route hit/execution summaries and returns the last
// five unmatched messages.
func (r *Router) Analytics() *Summary {
	a := r.analytics
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := &Summary{Routes: make(map[string]*RouteSummary)}
	for name, hits := range a.hits {
		summary.Routes[name] = &RouteSummary{Name: name, Hits: hits}
	}
	for name, stats := range a.executions {
		rs := summary.Routes[name]
		if rs == nil {
			rs = &RouteSummary{Name: name}
			summary.Routes[name] = rs
		}
		rs.Executions = stats.Total
		rs.Successes = stats.Successes
		rs.Failures = stats.Failures
		if stats.Total > 0 {
			rate := float64(stats.Successes) / float64(stats.Total) * 100
			rs.SuccessRate = math.Round(rate*10) / 10
			rs.AvgDurationMS = stats.TotalDurationMS / int64(stats.Total)
		}
	}

	n := len(a.unmatched)
	if n > 5 {
		summary.LastUnmatched = append(summary.LastUnmatched, a.unmatched[n-5:]...)
	} else {
		summary.LastUnmatched = append(summary.LastUnmatched, a.unmatched...)
	}
	return summary
}

// Unmatched returns a copy of the unmatched-message ring, oldest first.
func (r *Router) Unmatched() []UnmatchedMessage {
	a := r.analytics
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]UnmatchedMessage, len(a.unmatched))
	copy(out, a.unmatched)
	return out
}
