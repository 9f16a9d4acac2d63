package events_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docwatch/sentinel/pkg/events"
)

func newBus() *events.Bus {
	return events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := newBus()

	var order []int
	bus.Subscribe(events.TaskCompleted, func(events.Event) { order = append(order, 1) })
	bus.Subscribe(events.TaskCompleted, func(events.Event) { order = append(order, 2) })
	bus.Subscribe(events.Wildcard, func(events.Event) { order = append(order, 3) })

	bus.Publish(events.TaskCompleted, nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := newBus()

	var got []string
	bus.Subscribe(events.TaskCompleted, func(e events.Event) { got = append(got, e.Type) })
	bus.Subscribe(events.TaskFailed, func(e events.Event) { got = append(got, e.Type) })

	bus.Publish(events.TaskCompleted, nil)

	assert.Equal(t, []string{events.TaskCompleted}, got)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := newBus()

	var received bool
	bus.Subscribe(events.TaskCompleted, func(events.Event) { panic("handler blew up") })
	bus.Subscribe(events.TaskCompleted, func(events.Event) { received = true })

	require.NotPanics(t, func() {
		bus.Publish(events.TaskCompleted, map[string]any{"task_id": "t1"})
	})
	assert.True(t, received, "second subscriber should still receive the event")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newBus()

	var count int
	sub := bus.Subscribe(events.StageChanged, func(events.Event) { count++ })

	bus.Publish(events.StageChanged, nil)
	sub.Unsubscribe()
	bus.Publish(events.StageChanged, nil)

	assert.Equal(t, 1, count)
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := newBus()

	sub := bus.Subscribe(events.StageChanged, func(events.Event) {})
	sub.Unsubscribe()
	require.NotPanics(t, sub.Unsubscribe)
}

func TestPayloadAndTimestampPropagate(t *testing.T) {
	bus := newBus()

	var got events.Event
	bus.Subscribe(events.Wildcard, func(e events.Event) { got = e })

	bus.Publish(events.SessionStarted, map[string]any{"session_id": "s1"})

	assert.Equal(t, events.SessionStarted, got.Type)
	assert.Equal(t, "s1", got.Payload["session_id"])
	assert.False(t, got.Timestamp.IsZero())
}
