package routes

import (
	"context"
	"strings"
	"time"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
)

// EchoRouteID names a non-durable demonstration route used to exercise
// the engine without an LLM collaborator. Demonstration routes are
// out of scope for durability but still persist state uniformly,
// same as every other route.
const EchoRouteID = "echo-demo"

// Echo builds a two-step route that simply upper-cases its payload.
func Echo() engine.Route {
	return engine.Route{
		ID: EchoRouteID,
		Steps: []engine.RouteStep{
			{
				Name: "validate-input",
				Kind: engine.StepKindCompute,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if body == "" {
						return "", engine.BadInputf("payload must not be empty")
					}
					return body, nil
				},
			},
			{
				Name: "echo",
				Kind: engine.StepKindCompute,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					return strings.ToUpper(body), nil
				},
			},
		},
	}
}

// TimerRouteID names a demonstration route with an artificial delay
// step, useful for exercising pause/resume and crash recovery without
// depending on an external approval or LLM call.
const TimerRouteID = "timer-demo"

// Timer builds a three-step route that sleeps briefly between
// checkpoints.
func Timer() engine.Route {
	return engine.Route{
		ID: TimerRouteID,
		Steps: []engine.RouteStep{
			{
				Name: "start",
				Kind: engine.StepKindAuditLog,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					return body, rt.AuditLog(ctx, "info", "timer started")
				},
			},
			{
				Name: "wait",
				Kind: engine.StepKindCompute,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					select {
					case <-time.After(2 * time.Second):
						return body, nil
					case <-ctx.Done():
						return "", ctx.Err()
					}
				},
			},
			{
				Name: "finish",
				Kind: engine.StepKindAuditLog,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					return body, rt.AuditLog(ctx, "info", "timer finished")
				},
			},
		},
	}
}
