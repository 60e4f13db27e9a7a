package repl

import (
	"fmt"

	"github.com/fatih/color"

	"skillkeeper/internal/events"
)

// subscribe streams lifecycle events into the chat as notifications.
// Handlers print and return; they never block the emitting goroutine.
func (r *REPL) subscribe() {
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	r.emitter.On(events.TypeGatePending, func(ev *events.Event) {
		r.notify("%s approval needed for %s (risk=%v)\n  approve %v   or   reject %v reason",
			yellow("⏸"), ev.Skill, ev.Data["risk"], ev.Data["gateId"], ev.Data["gateId"])
	})
	r.emitter.On(events.TypeGateResolved, func(ev *events.Event) {
		r.notify("%s gate for %s resolved: %v", cyan("▸"), ev.Skill, ev.Data["status"])
	})
	r.emitter.On(events.TypeVerificationRejected, func(ev *events.Event) {
		r.notify("%s verification rejected for %s: %v", red("✗"), ev.Skill, ev.Data["reason"])
	})
	r.emitter.On(events.TypeNewProposal, func(ev *events.Event) {
		r.notify("%s new proposal %v (%v), /proposals to review",
			cyan("▸"), ev.Data["proposalId"], ev.Data["action"])
	})
	r.emitter.On(events.TypeAnalysisComplete, func(ev *events.Event) {
		r.notify("%s analysis complete: %v insights over %vd",
			cyan("▸"), ev.Data["insights"], ev.Data["days"])
	})
	r.emitter.On(events.TypeFixReady, func(ev *events.Event) {
		r.notify("%s fix %v ready for %s, /fix approve %v",
			green("✓"), ev.Data["fixId"], ev.Skill, ev.Data["fixId"])
	})
	r.emitter.On(events.TypeFixDeployed, func(ev *events.Event) {
		r.notify("%s fix %v deployed for %s", green("✓"), ev.Data["fixId"], ev.Skill)
	})
	r.emitter.On(events.TypeFixRolledBack, func(ev *events.Event) {
		r.notify("%s fix %v rolled back: %v", red("✗"), ev.Data["fixId"], ev.Data["reason"])
	})
}

func (r *REPL) notify(format string, args ...any) {
	fmt.Printf("\n"+format+"\n", args...)
	if r.rl != nil {
		r.rl.Refresh()
	}
}
