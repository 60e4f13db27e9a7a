package errorlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"skillkeeper/internal/types"
)

// Query filters outcome records over a window of day files.
// A non-empty Classification implicitly excludes success records.
type Query struct {
	Skill          string
	Classification types.Classification
	Fingerprint    string
	MinOccurrences int
	Days           int // Lookback window (default: 7)
}

// Query scans the last Days day files and yields entries matching every
// supplied filter. Malformed lines are silently skipped; a missing day file
// is not an error.
func (l *Logger) Query(q Query) ([]*Entry, error) {
	days := q.Days
	if days <= 0 {
		days = 7
	}

	var out []*Entry
	for i := 0; i < days; i++ {
		day := l.now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		path := filepath.Join(l.dir, day+".json")
		b, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, line := range splitLines(b) {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				continue // malformed line
			}
			if q.matches(&e) {
				out = append(out, &e)
			}
		}
	}
	return out, nil
}

func (q Query) matches(e *Entry) bool {
	if q.Skill != "" && e.Skill != q.Skill {
		return false
	}
	if q.Classification != "" && e.Classification != q.Classification {
		return false
	}
	if q.Fingerprint != "" && e.Fingerprint != q.Fingerprint {
		return false
	}
	if q.MinOccurrences > 0 && e.OccurrenceCount < q.MinOccurrences {
		return false
	}
	return true
}

// Recurring is a fingerprint count annotated with its most recent record.
type Recurring struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
	Last        *Entry `json:"last"`
}

// RecurringErrors returns the top-K fingerprints by occurrence count, each
// annotated with the most recent matching record from the query window.
func (l *Logger) RecurringErrors(topK, days int) ([]*Recurring, error) {
	counts := l.Counts()

	recurring := make([]*Recurring, 0, len(counts))
	for fp, count := range counts {
		recurring = append(recurring, &Recurring{Fingerprint: fp, Count: count})
	}
	sort.Slice(recurring, func(i, j int) bool { return recurring[i].Count > recurring[j].Count })
	if topK > 0 && len(recurring) > topK {
		recurring = recurring[:topK]
	}

	for _, r := range recurring {
		entries, err := l.Query(Query{Fingerprint: r.Fingerprint, Days: days})
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Kind != KindError {
				continue
			}
			if r.Last == nil || e.Timestamp > r.Last.Timestamp {
				r.Last = e
			}
		}
	}
	return recurring, nil
}

// Report summarizes outcomes over a query window.
type Report struct {
	Days             int                          `json:"days"`
	TotalErrors      int                          `json:"total_errors"`
	TotalSuccesses   int                          `json:"total_successes"`
	ErrorRate        float64                      `json:"error_rate"`
	ByClassification map[types.Classification]int `json:"by_classification"`
	BySkill          map[string]int               `json:"by_skill"`
	BySeverity       map[types.Severity]int       `json:"by_severity"`
}

// Report aggregates error and success counts over the last days day files.
func (l *Logger) Report(days int) (*Report, error) {
	entries, err := l.Query(Query{Days: days})
	if err != nil {
		return nil, err
	}

	r := &Report{
		Days:             days,
		ByClassification: make(map[types.Classification]int),
		BySkill:          make(map[string]int),
		BySeverity:       make(map[types.Severity]int),
	}
	for _, e := range entries {
		switch e.Kind {
		case KindError:
			r.TotalErrors++
			r.ByClassification[e.Classification]++
			r.BySkill[e.Skill]++
			r.BySeverity[e.Severity]++
		case KindSuccess:
			r.TotalSuccesses++
		}
	}
	if total := r.TotalErrors + r.TotalSuccesses; total > 0 {
		r.ErrorRate = float64(r.TotalErrors) / float64(total)
	}
	return r, nil
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, b[start:i])
			}
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return lines
}
