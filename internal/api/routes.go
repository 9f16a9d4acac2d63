package api

import (
	"net/http"

	"github.com/docwatch/sentinel/internal/config"
	"github.com/docwatch/sentinel/internal/orchestrator"
	"github.com/docwatch/sentinel/internal/pipeline"
	"github.com/docwatch/sentinel/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	workflowHandler := orchestrator.NewHandler(
		domain.Coordinator,
		runtime.Logger,
		runtime.Pagination,
	)

	pipelineHandler := pipeline.NewHandler(
		domain.Machine,
		domain.Sessions,
		runtime.Logger,
		runtime.Pagination,
	)

	archiveHandler := newStorageHandler(
		runtime.Storage,
		runtime.Logger,
		cfg.Storage.MaxListSize,
	)

	routes.Register(
		mux,
		workflowHandler.Routes(),
		pipelineHandler.Routes(),
		archiveHandler.routes(),
	)
}
