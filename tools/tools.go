// Package tools executes model-requested tool invocations. Tools are
// declared once with a JSON Schema for their input; invocations are
// validated against the schema before the handler runs. Handler state is
// scoped per session so concurrent conversations never share cursors.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sonicbridge/voicewire/s2s"
)

// Tool invocation failure modes.
var (
	// ErrUnknownTool is returned when no handler is registered for a name.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidInput is returned when the input does not satisfy the
	// tool's declared schema.
	ErrInvalidInput = errors.New("tools: input does not match schema")
)

// Handler executes one tool call. State is scoped to the calling session.
type Handler func(ctx context.Context, input string, state *State) (string, error)

// State is a per-session key-value bag for handlers that need to remember
// position between calls, such as a question cursor.
type State struct {
	mu     sync.Mutex
	values map[string]interface{}
}

// NewState creates an empty state bag.
func NewState() *State {
	return &State{values: make(map[string]interface{})}
}

// Get returns the value for a key, or nil.
func (s *State) Get(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Set stores a value for a key.
func (s *State) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// NextIndex returns a monotonically advancing cursor for key, wrapping at n.
// Each session owns its own State, so cursors never interfere across
// concurrent conversations.
func (s *State) NextIndex(key string, n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.values[key].(int)
	s.values[key] = (cur + 1) % n
	return cur % n
}

type entry struct {
	spec    s2s.ToolSpec
	schema  *gojsonschema.Schema
	handler Handler
}

// Registry holds the declared tools and their handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register declares a tool. An empty input schema accepts any input.
func (r *Registry) Register(spec s2s.ToolSpec, handler Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("tools: spec requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tools: handler is required for %s", spec.Name)
	}

	var schema *gojsonschema.Schema
	if spec.InputSchema.JSON != "" {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(spec.InputSchema.JSON))
		if err != nil {
			return fmt.Errorf("tools: compile schema for %s: %w", spec.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; !ok {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, schema: schema, handler: handler}
	return nil
}

// Configuration returns the tool declarations in registration order, in the
// shape promptStart carries.
func (r *Registry) Configuration() s2s.ToolConfiguration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := s2s.ToolConfiguration{Tools: make([]s2s.ToolEntry, 0, len(r.order))}
	for _, name := range r.order {
		cfg.Tools = append(cfg.Tools, s2s.ToolEntry{ToolSpec: r.entries[name].spec})
	}
	return cfg
}

// ForSession binds the registry to a fresh per-session state bag. The
// returned value implements the session protocol's tool collaborator
// interface.
func (r *Registry) ForSession(sessionID string) *SessionTools {
	return &SessionTools{registry: r, sessionID: sessionID, state: NewState()}
}

// SessionTools invokes registry tools with session-scoped state.
type SessionTools struct {
	registry  *Registry
	sessionID string
	state     *State
}

// State returns the session's state bag.
func (s *SessionTools) State() *State {
	return s.state
}

// Invoke validates the input against the tool's schema and runs its handler.
func (s *SessionTools) Invoke(ctx context.Context, name, input string) (string, error) {
	s.registry.mu.RLock()
	e, ok := s.registry.entries[name]
	s.registry.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if input == "" {
		input = "{}"
	}
	if e.schema != nil {
		result, err := e.schema.Validate(gojsonschema.NewStringLoader(input))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if !result.Valid() {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, result.Errors())
		}
	}

	return e.handler(ctx, input, s.state)
}
