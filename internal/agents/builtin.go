package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nexxia-ai/aigentic"
	"github.com/nexxia-ai/aigentic/ai"
	openai "github.com/nexxia-ai/aigentic/ai/openai"
)

type capabilitySpec struct {
	name         string
	description  string
	instructions string
}

var builtins = []capabilitySpec{
	{
		name:        "document.summarize",
		description: "Summarizes monitored document content.",
		instructions: "Produce a concise summary of the provided document content. " +
			"Focus on obligations, parties, dates, and amounts.",
	},
	{
		name:        "document.classify",
		description: "Classifies document content into a category.",
		instructions: "Classify the provided document content. Respond with the " +
			"category name followed by a one-sentence rationale.",
	},
	{
		name:        "risk.assess",
		description: "Scores risk or anomaly signals in document content.",
		instructions: "Assess the provided document content for risk indicators " +
			"and anomalies. Respond with a risk level (low, medium, high) and the " +
			"findings that support it.",
	},
}

// RegisterBuiltins wires the stock LLM-backed capabilities into the registry.
// With provider "none" no capabilities are registered; deployments then rely
// entirely on externally registered handlers.
func RegisterBuiltins(r *Registry, cfg *Config, logger *slog.Logger) error {
	if cfg.Provider == "none" {
		logger.Info("built-in capabilities disabled")
		return nil
	}

	var model *ai.Model
	if cfg.BaseURL != "" {
		model = openai.NewModel(cfg.Model, cfg.Token, cfg.BaseURL)
	} else {
		model = openai.NewModel(cfg.Model, cfg.Token)
	}

	for _, spec := range builtins {
		if err := r.Register(spec.name, agentHandler(model, cfg, spec)); err != nil {
			return fmt.Errorf("register %s: %w", spec.name, err)
		}
	}

	logger.Info(
		"built-in capabilities registered",
		"count", len(builtins),
		"model", cfg.Model,
	)
	return nil
}

func agentHandler(model *ai.Model, cfg *Config, spec capabilitySpec) Handler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, _ := params["content"].(string)
		if content == "" {
			return nil, fmt.Errorf("%w: content", ErrMissingParameter)
		}

		agent := aigentic.Agent{
			Name:         spec.name,
			Model:        model,
			Description:  spec.description,
			Instructions: spec.instructions,
			Retries:      cfg.Retries,
		}

		run, err := agent.Start(content)
		if err != nil {
			return nil, fmt.Errorf("start %s run: %w", spec.name, err)
		}

		output, err := run.Wait(cfg.TimeoutDuration())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.name, err)
		}

		return map[string]any{
			"content": output,
			"model":   cfg.Model,
		}, nil
	}
}
