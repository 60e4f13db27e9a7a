// skillkeeper is the self-supervising core for an agentic bot: it observes
// skill outcomes, gates risky operations behind approvals, learns from
// errors and corrections, and patches failing skills under a safety
// envelope.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skillkeeper/internal/ai"
	"skillkeeper/internal/autofix"
	"skillkeeper/internal/config"
	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/gates"
	"skillkeeper/internal/improve"
	"skillkeeper/internal/router"
)

var (
	workDir string

	cfg        *config.Config
	emitter    *events.Emitter
	logger     *errorlog.Logger
	rtr        *router.Router
	gateEngine *gates.Engine
	loop       *improve.Loop
	fixEngine  *autofix.Engine
)

var rootCmd = &cobra.Command{
	Use:   "skillkeeper",
	Short: "Self-supervising observe/learn/gate core for an agentic bot",
	Long: `skillkeeper watches every skill execution, classifies and fingerprints
failures, gates risky operations behind human approval, mines errors and
corrections into improvement proposals, and turns approved proposals into
tested source patches.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if gateEngine != nil {
			gateEngine.Close()
		}
	},
}

func setup() error {
	var err error
	cfg, err = config.Load(workDir)
	if err != nil {
		return err
	}

	emitter = events.NewEmitter()

	logger, err = errorlog.New(&errorlog.Config{
		Dir:       cfg.ErrorsDir,
		Threshold: cfg.LoggerThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to create error logger: %w", err)
	}

	gateEngine, err = gates.New(&gates.Config{
		Dir:     cfg.AuditDir,
		Logger:  logger,
		Emitter: emitter,
		Timeout: cfg.GateTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create gate engine: %w", err)
	}

	rtr, err = router.New(&router.Config{Logger: logger, Emitter: emitter})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	rtr.Use(gates.PlanMiddleware(gateEngine))
	rtr.UsePost(gates.VerifyMiddleware(gateEngine))
	registerBuiltinRoutes(rtr)

	loop, err = improve.New(&improve.Config{
		Dir:                 cfg.ImprovementDir,
		Logger:              logger,
		Router:              rtr,
		Gates:               gateEngine,
		Emitter:             emitter,
		ErrorThreshold:      cfg.ErrorThreshold,
		CorrectionThreshold: cfg.CorrectionThreshold,
		MissThreshold:       cfg.MissThreshold,
		RejectionThreshold:  cfg.RejectionThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to create improvement loop: %w", err)
	}

	var oracle ai.Oracle
	if cfg.OracleEnabled && cfg.APIKey != "" {
		client, err := ai.NewClient(&ai.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.OracleModel,
			MaxTokens: cfg.OracleMaxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create oracle: %w", err)
		}
		oracle = client
	}

	fixEngine, err = autofix.New(&autofix.Config{
		Dir:       cfg.AutofixDir,
		SkillsDir: cfg.SkillsDir,
		Logger:    logger,
		Loop:      loop,
		Oracle:    oracle,
		Emitter:   emitter,
	})
	if err != nil {
		return fmt.Errorf("failed to create auto-fix engine: %w", err)
	}
	return nil
}

// registerBuiltinRoutes adds the diagnostic routes every install carries.
// Real skills are registered by the hosting bot.
func registerBuiltinRoutes(r *router.Router) {
	_ = r.Add(&router.Route{
		Name:     "ping",
		Patterns: []string{`(?i)^ping$`},
		Enabled:  true,
		Handler: func(ctx context.Context, m *router.Match) (any, error) {
			return "pong", nil
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "workspace directory")
}
