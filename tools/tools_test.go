package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicbridge/voicewire/s2s"
)

func echoSpec(name string) s2s.ToolSpec {
	return s2s.ToolSpec{
		Name:        name,
		Description: "echoes its input",
		InputSchema: s2s.ToolInputSchema{JSON: `{"type":"object","properties":{}}`},
	}
}

func TestRegisterValidatesSpec(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(s2s.ToolSpec{}, func(context.Context, string, *State) (string, error) {
		return "", nil
	})
	assert.Error(t, err, "nameless spec must be rejected")

	err = reg.Register(echoSpec("echo"), nil)
	assert.Error(t, err, "nil handler must be rejected")

	err = reg.Register(s2s.ToolSpec{
		Name:        "broken",
		InputSchema: s2s.ToolInputSchema{JSON: `{"type":`},
	}, func(context.Context, string, *State) (string, error) { return "", nil })
	assert.Error(t, err, "uncompilable schema must be rejected")
}

func TestConfigurationPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, reg.Register(echoSpec(name), func(context.Context, string, *State) (string, error) {
			return "{}", nil
		}))
	}

	cfg := reg.Configuration()
	require.Len(t, cfg.Tools, 3)
	assert.Equal(t, "zulu", cfg.Tools[0].ToolSpec.Name)
	assert.Equal(t, "alpha", cfg.Tools[1].ToolSpec.Name)
	assert.Equal(t, "mike", cfg.Tools[2].ToolSpec.Name)
}

func TestInvokeValidatesInputAgainstSchema(t *testing.T) {
	reg := NewRegistry()
	spec := s2s.ToolSpec{
		Name: "lookup",
		InputSchema: s2s.ToolInputSchema{
			JSON: `{"type":"object","required":["key"],"properties":{"key":{"type":"string"}}}`,
		},
	}
	require.NoError(t, reg.Register(spec, func(_ context.Context, input string, _ *State) (string, error) {
		return input, nil
	}))

	session := reg.ForSession("s1")

	out, err := session.Invoke(context.Background(), "lookup", `{"key":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"key":"a"}`, out)

	_, err = session.Invoke(context.Background(), "lookup", `{"wrong":1}`)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = session.Invoke(context.Background(), "lookup", `not json`)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.ForSession("s1").Invoke(context.Background(), "ghost", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvokeTreatsEmptyInputAsEmptyObject(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoSpec("echo"), func(_ context.Context, input string, _ *State) (string, error) {
		return input, nil
	}))

	out, err := reg.ForSession("s1").Invoke(context.Background(), "echo", "")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestHandlerErrorsPropagate(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.Register(echoSpec("fails"), func(context.Context, string, *State) (string, error) {
		return "", boom
	}))

	_, err := reg.ForSession("s1").Invoke(context.Background(), "fails", "{}")
	assert.ErrorIs(t, err, boom)
}

// Each session gets its own cursor: concurrent conversations must never
// advance each other's position.
func TestStateCursorIsPerSession(t *testing.T) {
	reg := NewRegistry()
	questions := []string{"q0", "q1", "q2"}
	require.NoError(t, reg.Register(echoSpec("next"), func(_ context.Context, _ string, state *State) (string, error) {
		return questions[state.NextIndex("cursor", len(questions))], nil
	}))

	first := reg.ForSession("s1")
	second := reg.ForSession("s2")

	for _, want := range []string{"q0", "q1"} {
		out, err := first.Invoke(context.Background(), "next", "{}")
		require.NoError(t, err)
		assert.Equal(t, want, out)
	}

	// The second session starts from the beginning.
	out, err := second.Invoke(context.Background(), "next", "{}")
	require.NoError(t, err)
	assert.Equal(t, "q0", out)
}

func TestStateCursorWraps(t *testing.T) {
	state := NewState()
	got := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		got = append(got, state.NextIndex("k", 2))
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, got)
	assert.Equal(t, 0, state.NextIndex("empty", 0))
}

func TestStateGetSet(t *testing.T) {
	state := NewState()
	assert.Nil(t, state.Get("missing"))
	state.Set("city", "Lisbon")
	assert.Equal(t, "Lisbon", state.Get("city"))
}
