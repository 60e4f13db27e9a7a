// Package repl is the interactive chat surface. Free text is routed through
// the workflow router; slash commands manage gates, proposals, and fixes;
// lifecycle events stream in as colored notifications.
package repl

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"skillkeeper/internal/autofix"
	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/gates"
	"skillkeeper/internal/improve"
	"skillkeeper/internal/router"
)

// REPL represents the interactive shell
type REPL struct {
	router  *router.Router
	gates   *gates.Engine
	loop    *improve.Loop
	fixes   *autofix.Engine
	logger  *errorlog.Logger
	emitter *events.Emitter
	rl      *readline.Instance
	ctx     context.Context

	commands map[string]CommandHandler
}

// CommandHandler handles a specific slash command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Router  *router.Router
	Gates   *gates.Engine
	Loop    *improve.Loop
	Fixes   *autofix.Engine
	Logger  *errorlog.Logger
	Emitter *events.Emitter
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}

	r := &REPL{
		router:   cfg.Router,
		gates:    cfg.Gates,
		loop:     cfg.Loop,
		fixes:    cfg.Fixes,
		logger:   cfg.Logger,
		emitter:  cfg.Emitter,
		commands: make(map[string]CommandHandler),
	}
	r.registerCommands()
	r.subscribe()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("skillkeeper> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

func (r *REPL) printWelcome() {
	bold := color.New(color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("\n%s\n", bold("skillkeeper chat"))
	fmt.Printf("%s\n\n", gray("Type a message to route it, /help for commands, Ctrl+D to exit."))
}

// processInput dispatches one line: slash commands run inline, gate replies
// resolve pending gates, anything else routes as a message.
func (r *REPL) processInput(line string) error {
	if strings.HasPrefix(line, "/") {
		parts := strings.Fields(line[1:])
		if len(parts) == 0 {
			return nil
		}
		handler, ok := r.commands[parts[0]]
		if !ok {
			return fmt.Errorf("unknown command /%s (try /help)", parts[0])
		}
		return handler(parts[1:])
	}

	// "approve GATE_ID" / "reject GATE_ID reason" resolve a pending gate.
	fields := strings.Fields(line)
	if r.gates != nil && len(fields) >= 2 {
		switch fields[0] {
		case "approve":
			if r.gates.Approve(fields[1], nil) {
				fmt.Println("Gate approved.")
				return nil
			}
		case "reject":
			reason := strings.Join(fields[2:], " ")
			if r.gates.Reject(fields[1], reason) {
				fmt.Println("Gate rejected.")
				return nil
			}
		}
	}

	// Route in the background: high-risk messages suspend on their plan
	// gate, and the loop must stay free so the approval can be typed.
	go func(message string) {
		outcome := r.router.Route(r.ctx, message, map[string]any{"userId": "repl"})
		r.printOutcome(message, outcome)
	}(line)
	return nil
}

func (r *REPL) printOutcome(message string, outcome *router.Outcome) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	switch {
	case !outcome.Matched:
		fmt.Printf("%s %q\n", gray("No matching route for"), message)
	case outcome.PreCheckFailed != "":
		fmt.Printf("%s %s\n", red("Blocked:"), outcome.PreCheckFailed)
	case outcome.OK:
		fmt.Printf("%s %s (%dms): %v\n", green("OK"), outcome.Route, outcome.DurationMS, outcome.Result)
	default:
		fmt.Printf("%s %s: %s\n", red("Failed"), outcome.Route, outcome.Error)
	}
	if r.rl != nil {
		r.rl.Refresh()
	}
}
