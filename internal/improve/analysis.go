package improve

import (
	"fmt"
	"log"
	"sort"

	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

// Analyze rebuilds the insight list from scratch over the lookback window,
// appends a metrics snapshot, expires stale proposals, persists, and emits
// analysis-complete. The passes run in a fixed order so insight IDs and
// ordering are reproducible for a given state.
func (l *Loop) Analyze(days int) ([]*Insight, error) {
	if days <= 0 {
		days = 7
	}

	var insights []*Insight
	add := func(t InsightType, severity types.Severity, skill, message string, data map[string]any) {
		insights = append(insights, &Insight{
			ID:        types.NewID(),
			Type:      t,
			Severity:  severity,
			Skill:     skill,
			Message:   message,
			Data:      data,
			Timestamp: types.Timestamp(l.now()),
		})
	}

	if err := l.analyzeErrors(days, add); err != nil {
		return nil, err
	}
	l.analyzeCorrections(days, add)
	if err := l.analyzeGates(days, add); err != nil {
		return nil, err
	}
	l.analyzeRoutes(add)
	l.analyzeUnmatched(add)

	snapshot, err := l.snapshot(days, insights)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.insights = insights
	expired := l.expirePendingLocked()
	if err := l.saveLocked(insightsFile, l.insights); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if expired {
		if err := l.saveLocked(proposalsFile, l.proposals); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	l.metrics = append(l.metrics, snapshot)
	if len(l.metrics) > metricsRingSize {
		l.metrics = l.metrics[len(l.metrics)-metricsRingSize:]
	}
	if err := l.saveLocked(metricsFile, l.metrics); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	l.emitter.Emit(events.TypeAnalysisComplete, "", map[string]any{
		"insights": len(insights),
		"days":     days,
	})
	log.Printf("[IMPROVE] analysis over %dd produced %d insights", days, len(insights))
	return insights, nil
}

type addFunc func(t InsightType, severity types.Severity, skill, message string, data map[string]any)

// analyzeErrors covers recurring fingerprints and per-skill error rates.
func (l *Loop) analyzeErrors(days int, add addFunc) error {
	recurring, err := l.logger.RecurringErrors(0, days)
	if err != nil {
		return err
	}
	for _, r := range recurring {
		if r.Count < l.errorThreshold {
			continue
		}
		severity := types.SeverityMedium
		if r.Count > 10 {
			severity = types.SeverityHigh
		}
		skill, message := "", ""
		data := map[string]any{"fingerprint": r.Fingerprint, "count": r.Count}
		if r.Last != nil {
			skill = r.Last.Skill
			message = r.Last.Message
			data["classification"] = string(r.Last.Classification)
		}
		add(InsightErrorPattern, severity, skill,
			fmt.Sprintf("Error recurred %d times for %s: %s", r.Count, skill, message), data)
	}

	report, err := l.logger.Report(days)
	if err != nil {
		return err
	}
	skills := make([]string, 0, len(report.BySkill))
	for skill := range report.BySkill {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	for _, skill := range skills {
		if count := report.BySkill[skill]; count > 5 {
			add(InsightPerformance, types.SeverityMedium, skill,
				fmt.Sprintf("Skill %s produced %d errors in the last %dd", skill, count, days),
				map[string]any{"errors": count})
		}
	}
	return nil
}

// analyzeCorrections groups recent corrections by pattern hash.
func (l *Loop) analyzeCorrections(days int, add addFunc) {
	cutoff := types.Timestamp(l.now().AddDate(0, 0, -days))

	l.mu.Lock()
	groups := make(map[string][]*Correction)
	var order []string
	for _, c := range l.corrections {
		if c.Timestamp < cutoff {
			continue
		}
		if _, ok := groups[c.PatternHash]; !ok {
			order = append(order, c.PatternHash)
		}
		groups[c.PatternHash] = append(groups[c.PatternHash], c)
	}
	l.mu.Unlock()

	for _, hash := range order {
		group := groups[hash]
		if len(group) < l.correctionThreshold {
			continue
		}
		add(InsightCorrectionPattern, types.SeverityHigh, group[0].Skill,
			fmt.Sprintf("%d corrections share the same reason for %s: %q",
				len(group), group[0].Skill, commonReason(group)),
			map[string]any{
				"patternHash":  hash,
				"count":        len(group),
				"commonReason": commonReason(group),
			})
	}
}

// analyzeGates turns gate statistics into risk adjustments.
func (l *Loop) analyzeGates(days int, add addFunc) error {
	if l.gates == nil {
		return nil
	}
	stats, err := l.gates.Stats(days)
	if err != nil {
		return err
	}

	for _, skill := range stats.Candidates {
		add(InsightRiskAdjustment, types.SeverityLow, skill,
			fmt.Sprintf("Skill %s has %d clean approvals; its risk level could be lowered",
				skill, stats.PerSkill[skill].Total),
			map[string]any{"direction": "lower"})
	}

	skills := make([]string, 0, len(stats.PerSkill))
	for skill := range stats.PerSkill {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	for _, skill := range skills {
		if ss := stats.PerSkill[skill]; ss.Rejected >= l.rejectionThreshold {
			add(InsightRiskAdjustment, types.SeverityMedium, skill,
				fmt.Sprintf("Skill %s was rejected %d times; its risk level should be raised",
					skill, ss.Rejected),
				map[string]any{"direction": "raise"})
		}
	}

	if stats.PlanExpiredRate > 0.3 {
		add(InsightSkillUpdate, types.SeverityLow, "",
			fmt.Sprintf("%.0f%% of plan gates expire; consider longer approval timeouts",
				stats.PlanExpiredRate*100),
			map[string]any{"planExpiredRate": stats.PlanExpiredRate})
	}
	return nil
}

// analyzeRoutes covers success rate, latency, and unused routes.
func (l *Loop) analyzeRoutes(add addFunc) {
	if l.router == nil {
		return
	}
	summary := l.router.Analytics()

	names := make([]string, 0, len(summary.Routes))
	for name := range summary.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rs := summary.Routes[name]
		if rs.Executions > 5 && rs.SuccessRate < 80 {
			add(InsightPerformance, types.SeverityMedium, name,
				fmt.Sprintf("Route %s succeeds only %.1f%% of the time over %d executions",
					name, rs.SuccessRate, rs.Executions),
				map[string]any{"successRate": rs.SuccessRate, "executions": rs.Executions})
		}
		if rs.AvgDurationMS > 5000 {
			add(InsightPerformance, types.SeverityLow, name,
				fmt.Sprintf("Route %s averages %dms per execution", name, rs.AvgDurationMS),
				map[string]any{"avgDurationMs": rs.AvgDurationMS})
		}
	}

	for _, route := range l.router.Routes() {
		if rs, ok := summary.Routes[route.Name]; ok && (rs.Hits > 0 || rs.Executions > 0) {
			continue
		}
		add(InsightUnusedRoute, types.SeverityLow, route.Name,
			fmt.Sprintf("Route %s has never been hit", route.Name), nil)
	}
}

// analyzeUnmatched clusters the unmatched-message ring into route candidates.
func (l *Loop) analyzeUnmatched(add addFunc) {
	if l.router == nil {
		return
	}
	unmatched := l.router.Unmatched()
	if len(unmatched) < l.missThreshold {
		return
	}

	messages := make([]string, len(unmatched))
	for i, u := range unmatched {
		messages[i] = u.Message
	}
	for _, cluster := range clusterMessages(messages) {
		if len(cluster.Members) < 3 {
			continue
		}
		examples := cluster.Members
		if len(examples) > 5 {
			examples = examples[:5]
		}
		add(InsightNewRoute, types.SeverityMedium, "",
			fmt.Sprintf("%d unmatched messages look alike, e.g. %q",
				len(cluster.Members), cluster.Representative),
			map[string]any{
				"representative": cluster.Representative,
				"examples":       examples,
				"pattern":        cluster.Pattern(),
			})
	}
}
