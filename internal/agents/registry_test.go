package agents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docwatch/sentinel/internal/agents"
)

func noop(context.Context, map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := agents.NewRegistry()
	require.NoError(t, r.Register("document.summarize", noop))

	handler, err := r.Resolve("document.summarize")
	require.NoError(t, err)
	assert.NotNil(t, handler)
	assert.True(t, r.Has("document.summarize"))
}

func TestResolveUnknownCapability(t *testing.T) {
	r := agents.NewRegistry()

	_, err := r.Resolve("entity.extract")
	require.ErrorIs(t, err, agents.ErrUnknownCapability)
	assert.False(t, r.Has("entity.extract"))
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := agents.NewRegistry()
	require.NoError(t, r.Register("risk.assess", noop))
	assert.Error(t, r.Register("risk.assess", noop))
}

func TestRegisterValidation(t *testing.T) {
	r := agents.NewRegistry()
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("document.classify", nil))
}

func TestNamesSorted(t *testing.T) {
	r := agents.NewRegistry()
	require.NoError(t, r.Register("risk.assess", noop))
	require.NoError(t, r.Register("document.classify", noop))
	require.NoError(t, r.Register("document.summarize", noop))

	assert.Equal(
		t,
		[]string{"document.classify", "document.summarize", "risk.assess"},
		r.Names(),
	)
}
