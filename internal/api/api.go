// Package api assembles the API module with all engine systems and route registration.
package api

import (
	"net/http"

	"github.com/docwatch/sentinel/internal/config"
	"github.com/docwatch/sentinel/internal/infrastructure"
	"github.com/docwatch/sentinel/pkg/middleware"
	"github.com/docwatch/sentinel/pkg/module"
)

// NewModule creates the API module with all engine handlers and middleware.
// The returned Domain exposes systems the server mounts outside the API
// prefix, such as the websocket gateway.
func NewModule(
	cfg *config.Config,
	infra *infrastructure.Infrastructure,
) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)

	domain, err := NewDomain(cfg, runtime)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))

	return m, domain, nil
}
