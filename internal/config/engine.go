package config

import (
	"github.com/docwatch/sentinel/internal/agents"
	"github.com/docwatch/sentinel/internal/gateway"
	"github.com/docwatch/sentinel/internal/orchestrator"
	"github.com/docwatch/sentinel/internal/pipeline"
)

var orchestratorEnv = &orchestrator.Env{
	Workers:        "SENTINEL_ORCHESTRATOR_WORKERS",
	PersistTimeout: "SENTINEL_ORCHESTRATOR_PERSIST_TIMEOUT",
}

var pipelineEnv = &pipeline.Env{
	Stages:         "SENTINEL_PIPELINE_STAGES",
	Concurrency:    "SENTINEL_PIPELINE_CONCURRENCY",
	PersistTimeout: "SENTINEL_PIPELINE_PERSIST_TIMEOUT",
}

var agentsEnv = &agents.Env{
	Provider: "SENTINEL_AGENT_PROVIDER",
	Model:    "SENTINEL_AGENT_MODEL",
	BaseURL:  "SENTINEL_AGENT_BASE_URL",
	Token:    "SENTINEL_AGENT_TOKEN",
	Timeout:  "SENTINEL_AGENT_TIMEOUT",
	Retries:  "SENTINEL_AGENT_RETRIES",
}

var gatewayEnv = &gateway.Env{
	AllowedEvents: "SENTINEL_GATEWAY_ALLOWED_EVENTS",
	WriteTimeout:  "SENTINEL_GATEWAY_WRITE_TIMEOUT",
	PingInterval:  "SENTINEL_GATEWAY_PING_INTERVAL",
	SendBuffer:    "SENTINEL_GATEWAY_SEND_BUFFER",
}
