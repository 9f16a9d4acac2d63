package api

import (
	"context"
	"fmt"

	"github.com/docwatch/sentinel/internal/agents"
	"github.com/docwatch/sentinel/internal/config"
	"github.com/docwatch/sentinel/internal/gateway"
	"github.com/docwatch/sentinel/internal/orchestrator"
	"github.com/docwatch/sentinel/internal/pipeline"
	"github.com/docwatch/sentinel/internal/workflows"
	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/lifecycle"
)

// Domain holds all engine systems that comprise the API.
type Domain struct {
	Bus         *events.Bus
	Registry    *agents.Registry
	Coordinator *orchestrator.Coordinator
	Machine     *pipeline.Machine
	Sessions    *pipeline.Manager
	Gateway     *gateway.Gateway
}

// NewDomain creates all engine systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	bus := events.NewBus(runtime.Logger)

	registry := agents.NewRegistry()
	if err := agents.RegisterBuiltins(registry, &cfg.Agents, runtime.Logger); err != nil {
		return nil, fmt.Errorf("capability registration failed: %w", err)
	}

	workflowStore := workflows.NewStore(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.Pagination,
	)

	coordinator := orchestrator.New(
		workflowStore,
		bus,
		registry,
		runtime.Storage,
		&cfg.Orchestrator,
		runtime.Logger,
	)

	pipelineStore := pipeline.NewStore(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.Pagination,
	)

	machine := pipeline.NewMachine(&cfg.Pipeline, pipelineStore, bus, runtime.Logger)

	sessions := pipeline.NewManager(
		&cfg.Pipeline,
		machine,
		pipelineStore,
		bus,
		stageProcessor(registry),
		runtime.Logger,
	)

	return &Domain{
		Bus:         bus,
		Registry:    registry,
		Coordinator: coordinator,
		Machine:     machine,
		Sessions:    sessions,
		Gateway:     gateway.New(&cfg.Gateway, bus, runtime.Logger),
	}, nil
}

// Start registers every engine system with the lifecycle coordinator.
func (d *Domain) Start(lc *lifecycle.Coordinator) error {
	if err := d.Coordinator.Start(lc); err != nil {
		return fmt.Errorf("coordinator start failed: %w", err)
	}
	if err := d.Sessions.Start(lc); err != nil {
		return fmt.Errorf("session manager start failed: %w", err)
	}
	if err := d.Gateway.Start(lc); err != nil {
		return fmt.Errorf("gateway start failed: %w", err)
	}
	return nil
}

// stageProcessor routes each stage of a batch session through the
// matching registered capability. Stages without a "pipeline.<stage>"
// capability pass through untouched.
func stageProcessor(registry *agents.Registry) pipeline.Processor {
	return func(ctx context.Context, documentID, stage string) (string, error) {
		name := "pipeline." + stage
		if !registry.Has(name) {
			return "", nil
		}

		handler, err := registry.Resolve(name)
		if err != nil {
			return "", err
		}

		result, err := handler(ctx, map[string]any{
			"document_id": documentID,
			"stage":       stage,
		})
		if err != nil {
			return "", err
		}

		detail, _ := result["detail"].(string)
		return detail, nil
	}
}
