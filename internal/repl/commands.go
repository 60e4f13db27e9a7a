package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"skillkeeper/internal/autofix"
	"skillkeeper/internal/improve"
)

func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["proposals"] = r.cmdProposals
	r.commands["gates"] = r.cmdGates
	r.commands["correct"] = r.cmdCorrect
	r.commands["autofix"] = r.cmdAutofix
	r.commands["fix"] = r.cmdFix
	r.commands["trend"] = r.cmdTrend
	r.commands["analyze"] = r.cmdAnalyze
	r.commands["status"] = r.cmdStatus
	r.commands["exit"] = func([]string) error { fmt.Println("Goodbye!"); return io.EOF }
}

func (r *REPL) cmdHelp([]string) error {
	fmt.Println(`Commands:
  /proposals [pending|approved|all]   List improvement proposals
  /proposals approve ID               Approve a proposal
  /proposals reject ID [reason]       Reject a proposal
  /gates                              List pending approval gates
  /correct SKILL REASON...            Record a correction for a skill
  /autofix PROPOSAL_ID                Generate a fix for a proposal
  /fix approve|reject|apply ID        Manage a generated fix
  /analyze [days]                     Run an analysis cycle
  /trend                              Show the error-rate trend
  /status                             Show system status
  /exit                               Quit

  approve GATE_ID                     Approve a pending gate
  reject GATE_ID [reason]             Reject a pending gate

Anything else is routed as a message.`)
	return nil
}

func (r *REPL) cmdProposals(args []string) error {
	if r.loop == nil {
		return fmt.Errorf("improvement loop not configured")
	}
	if len(args) >= 2 && (args[0] == "approve" || args[0] == "reject") {
		id := args[1]
		switch args[0] {
		case "approve":
			p, err := r.loop.Approve(id)
			if err != nil {
				return err
			}
			fmt.Printf("Approved %s (%s)\n", p.ID, p.Action)
		case "reject":
			reason := strings.Join(args[2:], " ")
			p, err := r.loop.Reject(id, reason)
			if err != nil {
				return err
			}
			fmt.Printf("Rejected %s\n", p.ID)
		}
		return nil
	}

	filter := improve.ProposalFilter{Status: improve.ProposalPending}
	if len(args) > 0 {
		switch args[0] {
		case "all":
			filter.Status = ""
		case "pending", "approved", "rejected", "applied", "expired":
			filter.Status = improve.ProposalStatus(args[0])
		}
	}

	proposals := r.loop.Proposals(filter)
	if len(proposals) == 0 {
		fmt.Println("No proposals.")
		return nil
	}
	for _, p := range proposals {
		fmt.Printf("  %s [%s/%s] %s: %s\n",
			p.ID, severityColor(string(p.Severity)), p.Status, p.Action, p.Description)
	}
	return nil
}

func (r *REPL) cmdGates([]string) error {
	if r.gates == nil {
		return fmt.Errorf("gates not configured")
	}
	pending := r.gates.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending gates.")
		return nil
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, g := range pending {
		fmt.Printf("  %s %s %s/%s risk=%s expires=%s\n",
			yellow("●"), g.GateID, g.Gate, g.Skill, g.Risk, g.ExpiresAt.Format("15:04:05"))
	}
	return nil
}

func (r *REPL) cmdCorrect(args []string) error {
	if r.loop == nil {
		return fmt.Errorf("improvement loop not configured")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: /correct SKILL REASON...")
	}
	c, err := r.loop.RecordCorrection(args[0], nil, nil, strings.Join(args[1:], " "), nil)
	if err != nil {
		return err
	}
	fmt.Printf("Correction recorded for %s (pattern %s)\n", c.Skill, c.PatternHash)
	return nil
}

func (r *REPL) cmdAutofix(args []string) error {
	if r.fixes == nil {
		return fmt.Errorf("auto-fix engine not configured")
	}
	if len(args) < 1 {
		// No argument: list fixes.
		fixes := r.fixes.Fixes()
		if len(fixes) == 0 {
			fmt.Println("No fixes.")
			return nil
		}
		for _, f := range fixes {
			fmt.Printf("  %s [%s] %s: %s\n", f.ID, f.Status, f.Skill, f.Explanation)
		}
		return nil
	}

	fix, err := r.fixes.GenerateFix(r.ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Fix %s ready (%s, %d diff lines). /fix approve %s to proceed.\n",
		fix.ID, fix.Source, len(fix.Diff), fix.ID)
	for _, line := range fix.Diff {
		printDiffLine(line)
	}
	return nil
}

func (r *REPL) cmdFix(args []string) error {
	if r.fixes == nil {
		return fmt.Errorf("auto-fix engine not configured")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: /fix approve|reject|apply ID")
	}
	id := args[1]
	switch args[0] {
	case "approve":
		fix, err := r.fixes.ApproveFix(id)
		if err != nil {
			return err
		}
		fmt.Printf("Fix %s approved. /fix apply %s to deploy.\n", fix.ID, fix.ID)
	case "reject":
		reason := strings.Join(args[2:], " ")
		if _, err := r.fixes.RejectFix(id, reason); err != nil {
			return err
		}
		fmt.Printf("Fix %s rejected.\n", id)
	case "apply":
		fix, err := r.fixes.ApplyFix(r.ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Fix %s finished: %s\n", fix.ID, fix.Status)
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
	return nil
}

func (r *REPL) cmdAnalyze(args []string) error {
	if r.loop == nil {
		return fmt.Errorf("improvement loop not configured")
	}
	days := 7
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &days); err != nil {
			return fmt.Errorf("invalid day count %q", args[0])
		}
	}
	insights, err := r.loop.Analyze(days)
	if err != nil {
		return err
	}
	if len(insights) == 0 {
		fmt.Println("No insights.")
		return nil
	}
	for _, in := range insights {
		fmt.Printf("  [%s] %s: %s\n", severityColor(string(in.Severity)), in.Type, in.Message)
	}
	return nil
}

func (r *REPL) cmdTrend([]string) error {
	if r.loop == nil {
		return fmt.Errorf("improvement loop not configured")
	}
	trend := r.loop.Trend()
	snaps := r.loop.Metrics()
	fmt.Printf("Trend: %s (%d snapshots)\n", trend, len(snaps))
	n := len(snaps)
	if n > 4 {
		snaps = snaps[n-4:]
	}
	for _, s := range snaps {
		fmt.Printf("  %s error_rate=%.3f errors=%d routed=%d misses=%d\n",
			s.Timestamp, s.ErrorRate, s.TotalErrors, s.TotalRouted, s.MissCount)
	}
	return nil
}

func (r *REPL) cmdStatus([]string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %d routes registered\n", green("●"), len(r.router.Routes()))
	if r.logger != nil {
		report, err := r.logger.Report(7)
		if err == nil {
			fmt.Printf("  Last 7d: %d errors, %d successes (rate %.1f%%)\n",
				report.TotalErrors, report.TotalSuccesses, report.ErrorRate*100)
		}
	}
	if r.gates != nil {
		fmt.Printf("  Pending gates: %d\n", len(r.gates.Pending()))
	}
	if r.loop != nil {
		pending := r.loop.Proposals(improve.ProposalFilter{Status: improve.ProposalPending})
		fmt.Printf("  Pending proposals: %d\n", len(pending))
	}
	if r.fixes != nil {
		ready := 0
		for _, f := range r.fixes.Fixes() {
			if f.Status == autofix.FixReady {
				ready++
			}
		}
		fmt.Printf("  Fixes awaiting approval: %d\n", ready)
	}
	return nil
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(severity)
	case "high":
		return color.RedString(severity)
	case "medium":
		return color.YellowString(severity)
	default:
		return color.New(color.FgHiBlack).Sprint(severity)
	}
}

func printDiffLine(line string) {
	switch {
	case strings.HasPrefix(line, "+"):
		fmt.Println(color.GreenString(line))
	case strings.HasPrefix(line, "-"):
		fmt.Println(color.RedString(line))
	default:
		fmt.Println(line)
	}
}
