// Package routes declares the engine's fixed route definitions. Routes
// are registered once at startup; there is no runtime route
// definition API.
package routes

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/llmconfig"
)

// MaxPayloadLength is the default maximum input length the
// chat-durable route enforces (50,000 characters).
const MaxPayloadLength = 50000

// ChatDurableRouteID names the canonical durable chat route:
// validate-input -> log-request -> before-approval -> <approval
// gate> -> after-approval -> call-llm -> process-response ->
// update-metrics.
const ChatDurableRouteID = "chat-durable"

// ChatDurable builds the canonical durable chat route, wired to llm for
// its call-llm step and cfg for its validation/approval tunables.
func ChatDurable(llm llmconfig.Client, cfg Config) engine.Route {
	return engine.Route{
		ID: ChatDurableRouteID,
		Steps: []engine.RouteStep{
			{
				Name: "validate-input",
				Kind: engine.StepKindCompute,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if body == "" {
						return "", engine.BadInputf("payload must not be empty")
					}
					if utf8.RuneCountInString(body) > cfg.MaxPayloadLength {
						return "", engine.BadInputf("payload exceeds maximum length of %d characters", cfg.MaxPayloadLength)
					}
					return body, nil
				},
			},
			{
				Name: "log-request",
				Kind: engine.StepKindAuditLog,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if err := rt.AuditLog(ctx, "info", "request received"); err != nil {
						return "", err
					}
					return body, nil
				},
			},
			{
				Name: "before-approval",
				Kind: engine.StepKindAuditLog,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if err := rt.AuditLog(ctx, "info", "awaiting operator approval"); err != nil {
						return "", err
					}
					return body, nil
				},
			},
			engine.ApprovalGateStep("approval-gate", cfg.ApprovalTimeoutMinutes),
			{
				Name: "after-approval",
				Kind: engine.StepKindAuditLog,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if err := rt.AuditLog(ctx, "info", "approval granted"); err != nil {
						return "", err
					}
					return body, nil
				},
			},
			{
				Name: "call-llm",
				Kind: engine.StepKindLLMCall,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					reply, err := llm.Chat(ctx, body)
					if err != nil {
						return "", fmt.Errorf("llm call failed: %w", err)
					}
					return reply, nil
				},
			},
			{
				Name: "process-response",
				Kind: engine.StepKindCompute,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					return body, nil
				},
			},
			{
				Name: "update-metrics",
				Kind: engine.StepKindMetric,
				Run: func(ctx context.Context, rt *engine.StepRuntime, body string) (string, error) {
					if err := rt.IncrementMetric(ctx, true); err != nil {
						return "", err
					}
					return body, nil
				},
			},
		},
	}
}
