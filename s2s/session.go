package s2s

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonicbridge/voicewire/events"
	"github.com/sonicbridge/voicewire/logger"
)

// State is the lifecycle position of a session.
type State int

// Session lifecycle states. Start moves through SessionStarted to
// PromptStarted in one call; End moves through PromptEnded to Ended.
const (
	StateCreated State = iota
	StateSessionStarted
	StatePromptStarted
	StatePromptEnded
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateSessionStarted:
		return "SESSION_STARTED"
	case StatePromptStarted:
		return "PROMPT_STARTED"
	case StatePromptEnded:
		return "PROMPT_ENDED"
	case StateEnded:
		return "SESSION_ENDED"
	}
	return "UNKNOWN"
}

// EndReason records why a session reached its terminal state.
type EndReason string

// Session end reasons.
const (
	EndReasonNone          EndReason = ""
	EndReasonNormal        EndReason = "Normal"
	EndReasonTransportLost EndReason = "TransportLost"
)

// Sender is the outbound half of the duplex connection to the remote
// service. Implementations may block on transport backpressure.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// ContentSpec describes a content stream to open.
type ContentSpec struct {
	Role Role
	Kind Kind

	// Audio is the input format for KindAudio streams. Defaults to
	// DefaultAudioInputConfig when nil.
	Audio *AudioInputConfig

	// ToolUseID correlates a KindTool stream with the toolUse event it
	// answers. Required for KindTool.
	ToolUseID string
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Inference holds the sampling parameters sent on sessionStart.
	// Defaults to DefaultInferenceConfig when nil.
	Inference *InferenceConfig

	// AudioOutput is the synthesis format declared on promptStart.
	// Defaults to DefaultAudioOutputConfig("") when nil.
	AudioOutput *AudioOutputConfig

	// Tools lists the tools declared on promptStart.
	Tools ToolConfiguration

	// Bus receives typed lifecycle events. Optional.
	Bus *events.Bus

	// Tracer creates session lifecycle spans. Defaults to the global
	// otel tracer.
	Tracer trace.Tracer
}

type contentStream struct {
	id   string
	role Role
	kind Kind
}

// Session is the finite state machine governing one conversation with the
// remote service. All operations serialize their wire emissions through a
// single mutex: events reach the transport in exactly the order operations
// were invoked, and no two writes interleave.
type Session struct {
	id     string
	sender Sender
	cfg    SessionConfig
	tracer trace.Tracer

	mu        sync.Mutex
	state     State
	promptID  string
	contents  map[string]*contentStream
	endReason EndReason
	span      trace.Span
}

// NewSession creates a session in StateCreated. The sender is the outbound
// half of the duplex connection and must be non-nil.
func NewSession(sender Sender, cfg SessionConfig) (*Session, error) {
	if sender == nil {
		return nil, fmt.Errorf("s2s: sender is required")
	}
	if cfg.Inference == nil {
		def := DefaultInferenceConfig()
		cfg.Inference = &def
	}
	if cfg.AudioOutput == nil {
		def := DefaultAudioOutputConfig("")
		cfg.AudioOutput = &def
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/sonicbridge/voicewire/s2s")
	}

	return &Session{
		id:       uuid.New().String(),
		sender:   sender,
		cfg:      cfg,
		tracer:   tracer,
		state:    StateCreated,
		contents: make(map[string]*contentStream),
	}, nil
}

// ID returns the session id, unique for the process lifetime.
func (s *Session) ID() string {
	return s.id
}

// PromptID returns the prompt name correlating all content in this session.
// Empty until Start.
func (s *Session) PromptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the session ended, or EndReasonNone while active.
func (s *Session) Reason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Start opens the conversation: it emits sessionStart followed by
// promptStart and transitions to StatePromptStarted. Valid only once,
// from StateCreated.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	if s.state != StateCreated {
		return fmt.Errorf("%w: start called in %s", ErrInvalidState, s.state)
	}

	s.promptID = uuid.New().String()
	_, s.span = s.tracer.Start(ctx, "s2s.session",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("session.prompt_id", s.promptID),
		))

	if err := s.sendLocked(ctx, NewSessionStart(*s.cfg.Inference)); err != nil {
		return err
	}
	s.state = StateSessionStarted

	if err := s.sendLocked(ctx, NewPromptStart(s.promptID, *s.cfg.AudioOutput, s.cfg.Tools)); err != nil {
		return err
	}
	s.state = StatePromptStarted

	s.cfg.Bus.Publish(events.New(events.EventSessionStarted, s.id, map[string]interface{}{
		"prompt_id": s.promptID,
	}))
	logger.Debug("session started", "session_id", s.id, "prompt_id", s.promptID)
	return nil
}

// OpenContent allocates a fresh content id, emits contentStart, and returns
// the id. A new id is minted on every invocation, so a retried or barged-in
// audio turn can never collide with a stale stream. At most one content
// stream per kind may be open at a time.
func (s *Session) OpenContent(ctx context.Context, spec ContentSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return "", ErrAlreadyEnded
	}
	if s.state != StatePromptStarted {
		return "", fmt.Errorf("%w: openContent called in %s", ErrInvalidState, s.state)
	}
	for _, c := range s.contents {
		if c.kind == spec.Kind {
			return "", fmt.Errorf("%w: %s content %s still open", ErrInvalidState, c.kind, c.id)
		}
	}

	contentID := uuid.New().String()

	var ev *Event
	switch spec.Kind {
	case KindText:
		ev = NewTextContentStart(s.promptID, contentID, spec.Role)
	case KindAudio:
		audioCfg := spec.Audio
		if audioCfg == nil {
			def := DefaultAudioInputConfig()
			audioCfg = &def
		}
		ev = NewAudioContentStart(s.promptID, contentID, *audioCfg)
	case KindTool:
		if spec.ToolUseID == "" {
			return "", fmt.Errorf("%w: tool content requires a toolUseId", ErrInvalidState)
		}
		ev = NewToolContentStart(s.promptID, contentID, spec.ToolUseID)
	default:
		return "", fmt.Errorf("%w: unknown content kind %q", ErrInvalidState, spec.Kind)
	}

	if err := s.sendLocked(ctx, ev); err != nil {
		return "", err
	}

	s.contents[contentID] = &contentStream{id: contentID, role: spec.Role, kind: spec.Kind}
	s.cfg.Bus.Publish(events.New(events.EventContentOpened, s.id, map[string]interface{}{
		"content_id": contentID,
		"role":       string(spec.Role),
		"kind":       string(spec.Kind),
	}))
	return contentID, nil
}

// Feed emits one payload on an open content stream: textInput for TEXT,
// audioInput (base64) for AUDIO, toolResult for TOOL. Within one stream,
// payloads reach the wire in call order.
func (s *Session) Feed(ctx context.Context, contentID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	c, ok := s.contents[contentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContent, contentID)
	}

	var ev *Event
	switch c.kind {
	case KindText:
		ev = NewTextInput(s.promptID, contentID, string(payload))
	case KindAudio:
		ev = NewAudioInput(s.promptID, contentID, payload)
	case KindTool:
		ev = NewToolResult(s.promptID, contentID, string(payload))
	default:
		return fmt.Errorf("%w: content %s has kind %q", ErrInvalidState, contentID, c.kind)
	}
	return s.sendLocked(ctx, ev)
}

// CloseContent emits contentEnd and releases the id. The id is never
// reused; a Feed after CloseContent fails with ErrUnknownContent.
func (s *Session) CloseContent(ctx context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	c, ok := s.contents[contentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContent, contentID)
	}

	if err := s.sendLocked(ctx, NewContentEnd(s.promptID, contentID)); err != nil {
		return err
	}

	delete(s.contents, contentID)
	s.cfg.Bus.Publish(events.New(events.EventContentClosed, s.id, map[string]interface{}{
		"content_id": contentID,
		"role":       string(c.role),
		"kind":       string(c.kind),
	}))
	return nil
}

// End emits promptEnd then sessionEnd and transitions to StateEnded. Valid
// only from StatePromptStarted with no open content streams. Calls after the
// terminal state report ErrAlreadyEnded without re-emitting anything.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	if s.state != StatePromptStarted {
		return fmt.Errorf("%w: end called in %s", ErrInvalidState, s.state)
	}
	if len(s.contents) > 0 {
		return fmt.Errorf("%w: %d open", ErrContentActive, len(s.contents))
	}

	if err := s.sendLocked(ctx, NewPromptEnd(s.promptID)); err != nil {
		return err
	}
	s.state = StatePromptEnded

	if err := s.sendLocked(ctx, NewSessionEnd()); err != nil {
		return err
	}
	s.terminateLocked(EndReasonNormal)
	return nil
}

// Fail forces the session into the terminal state without emitting wire
// events. Used on transport loss; the old session never half-resurrects, a
// caller wanting to continue starts a fresh one.
func (s *Session) Fail(reason EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return
	}
	logger.Warn("session failed", "session_id", s.id, "reason", string(reason))
	s.terminateLocked(reason)
}

// terminateLocked moves to StateEnded, drops all content streams, and
// notifies observers. Caller holds s.mu.
func (s *Session) terminateLocked(reason EndReason) {
	s.state = StateEnded
	s.endReason = reason
	s.contents = make(map[string]*contentStream)

	if s.span != nil {
		if reason != EndReasonNormal {
			s.span.SetStatus(codes.Error, string(reason))
		}
		s.span.SetAttributes(attribute.String("session.end_reason", string(reason)))
		s.span.End()
		s.span = nil
	}

	s.cfg.Bus.Publish(events.New(events.EventSessionEnded, s.id, map[string]interface{}{
		"reason": string(reason),
	}))
}

// sendLocked encodes and writes one event while holding s.mu, preserving the
// single-writer discipline. A transport write failure is terminal.
func (s *Session) sendLocked(ctx context.Context, ev *Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, data); err != nil {
		s.terminateLocked(EndReasonTransportLost)
		return fmt.Errorf("%w: send %s: %v", ErrTransportLost, ev.Kind(), err)
	}
	return nil
}
