package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAdapter(NewScriptedAdapter("scripted"))

	require.NoError(t, reg.BindModel("mock-small", "scripted"))
	require.NoError(t, reg.BindModel("mock-large", "scripted"))

	adapter, err := reg.Resolve("mock-small")
	require.NoError(t, err)
	assert.Equal(t, "scripted", adapter.Name())

	_, err = reg.Resolve("gpt-nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedModel))
}

func TestRegistryBindUnknownAdapter(t *testing.T) {
	reg := NewRegistry()

	err := reg.BindModel("mock-small", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistryModelsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAdapter(NewScriptedAdapter("scripted"))

	require.NoError(t, reg.BindModel("zeta", "scripted"))
	require.NoError(t, reg.BindModel("alpha", "scripted"))
	require.NoError(t, reg.BindModel("mid", "scripted"))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Models())
}

func TestRegistryRebind(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAdapter(NewScriptedAdapter("first"))
	reg.RegisterAdapter(NewScriptedAdapter("second"))

	require.NoError(t, reg.BindModel("model-x", "first"))
	require.NoError(t, reg.BindModel("model-x", "second"))

	adapter, err := reg.Resolve("model-x")
	require.NoError(t, err)
	assert.Equal(t, "second", adapter.Name())
}
