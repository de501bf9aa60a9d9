package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoAgent(name string) *Agent {
	return New(name, "echoes input",
		Action{
			Name:        "echo",
			Description: "Echo the payload",
			Parameters:  []string{"message"},
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				return payload["message"], nil
			},
		},
		Action{
			Name:        "fail",
			Description: "Always fails",
			Handler: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("boom")
			},
		},
	)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry(nil)

	require.NoError(t, reg.Register("echo", echoAgent("Echo"), nil, ""))
	assert.Error(t, reg.Register("", echoAgent("Echo"), nil, ""))
	assert.Error(t, reg.Register("nil", nil, nil, ""))

	a, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo", a.Name())

	_, err = reg.Resolve("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAgentNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	reg := NewRegistry(nil)

	require.NoError(t, reg.Register("echo", echoAgent("First"), nil, ""))
	require.NoError(t, reg.Register("echo", echoAgent("Second"), nil, "http://remote"))

	a, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "Second", a.Name())
	assert.Equal(t, 1, reg.Count())

	entry, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "http://remote", entry.Endpoint)
}

func TestRegistry_ListAvailable(t *testing.T) {
	reg := NewRegistry(nil)

	declared := map[string]any{
		CapabilityName:        "Declared Echo",
		CapabilityDescription: "declared description",
		CapabilityActions: []map[string]any{
			{"name": "echo", "description": "Echo", "parameters": []string{"message"}},
		},
	}
	require.NoError(t, reg.Register("b_declared", echoAgent("Echo"), declared, ""))
	require.NoError(t, reg.Register("a_inferred", echoAgent("Inferred"), nil, ""))

	infos := reg.ListAvailable()
	require.Len(t, infos, 2)

	inferred := infos[0]
	assert.Equal(t, "a_inferred", inferred.Type)
	assert.True(t, inferred.Inferred)
	require.Len(t, inferred.Actions, 2)
	assert.Equal(t, "echo", inferred.Actions[0].Name)
	assert.Empty(t, inferred.Actions[0].Parameters)

	decl := infos[1]
	assert.Equal(t, "b_declared", decl.Type)
	assert.False(t, decl.Inferred)
	assert.Equal(t, "Declared Echo", decl.Name)
	assert.Equal(t, "declared description", decl.Description)
	require.Len(t, decl.Actions, 1)
	assert.Equal(t, []string{"message"}, decl.Actions[0].Parameters)
}

func TestAgent_Handler(t *testing.T) {
	a := echoAgent("Echo")

	h, ok := a.Handler("echo")
	require.True(t, ok)
	out, err := h(context.Background(), map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, ok = a.Handler("missing")
	assert.False(t, ok)

	err = UnsupportedActionError("echo", "missing")
	assert.True(t, errors.Is(err, ErrActionNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestDescribeActions(t *testing.T) {
	actions := DescribeActions(echoAgent("Echo"))

	require.Len(t, actions, 2)
	assert.Equal(t, []string{"message"}, actions[0].Parameters)
	assert.Equal(t, []string{}, actions[1].Parameters)
}
