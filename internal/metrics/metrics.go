// Package metrics exposes Prometheus collectors for engine activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsCreated counts workflow creation requests that succeeded.
	WorkflowsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "workflows_created_total",
		Help:      "Workflows created.",
	})

	// TasksCompleted counts task terminal transitions by outcome.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "tasks_terminal_total",
		Help:      "Task terminal transitions by outcome.",
	}, []string{"outcome"})

	// EventsPublished counts events delivered through the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_published_total",
		Help:      "Events published on the internal bus.",
	}, []string{"type"})

	// DocumentsProcessed counts pipeline document outcomes per session.
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "pipeline_documents_total",
		Help:      "Documents processed by pipeline sessions, by outcome.",
	}, []string{"outcome"})

	// ActiveSessions tracks whether a pipeline session is currently running.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "pipeline_active_sessions",
		Help:      "Pipeline sessions currently running (0 or 1).",
	})

	// GatewayConnections tracks live broadcast gateway connections.
	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "gateway_connections",
		Help:      "Live websocket connections on the broadcast gateway.",
	})
)
