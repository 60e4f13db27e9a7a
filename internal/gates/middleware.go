package gates

import (
	"context"
	"fmt"

	"skillkeeper/internal/router"
)

// PlanMiddleware bridges the plan gate into the router's pre-middleware
// chain. A rejected or expired gate aborts the pipeline; skipped, auto-passed,
// approved, and edited resolutions let execution proceed.
func PlanMiddleware(e *Engine) router.Middleware {
	return func(ctx context.Context, mc *router.MiddlewareContext) error {
		route := mc.Match.Route
		plan := &Plan{
			Description: fmt.Sprintf("Execute %s: %s", route.Name, mc.Match.Message),
			Risk:        route.Risk,
		}
		gctx := &GateContext{Risk: route.Risk}
		if userID, ok := mc.Match.Context["userId"].(string); ok {
			gctx.UserID = userID
		}
		if chatID, ok := mc.Match.Context["chatId"].(string); ok {
			gctx.ChatID = chatID
		}

		decision, err := e.PlanGate(route.Name, plan, gctx)
		if err != nil {
			return fmt.Errorf("plan gate failed for %s: %w", route.Name, err)
		}
		switch decision.Status {
		case StatusRejected:
			return router.Abort("Plan rejected: " + decision.Reason)
		case StatusExpired:
			return router.Abort("Plan approval timed out")
		}
		return nil
	}
}

// VerifyMiddleware bridges the verify gate into the router's post-middleware
// chain. A rejected or expired verification downgrades a successful outcome.
func VerifyMiddleware(e *Engine) router.Middleware {
	return func(ctx context.Context, mc *router.MiddlewareContext) error {
		outcome := mc.Outcome
		if outcome == nil || !outcome.OK {
			return nil
		}
		route := mc.Match.Route
		gctx := &GateContext{
			Risk:          route.Risk,
			OriginalInput: mc.Match.Message,
		}
		if userID, ok := mc.Match.Context["userId"].(string); ok {
			gctx.UserID = userID
		}

		decision, err := e.VerifyGate(route.Name, outcome.Result, gctx)
		if err != nil {
			return fmt.Errorf("verify gate failed for %s: %w", route.Name, err)
		}
		switch decision.Status {
		case StatusRejected:
			outcome.OK = false
			outcome.Error = "Verification rejected: " + decision.Reason
		case StatusExpired:
			outcome.OK = false
			outcome.Error = "Verification approval timed out"
		}
		return nil
	}
}
