package s2s

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sonicbridge/voicewire/events"
	"github.com/sonicbridge/voicewire/logger"
)

// DefaultFrameQueueSize bounds the outbound audio frame queue. A slow
// client-facing consumer applies backpressure to the dispatcher instead of
// growing memory without limit.
const DefaultFrameQueueSize = 16

// Receiver is the inbound half of the duplex connection to the remote
// service. Receive blocks until the next message arrives, the context is
// canceled, or the transport fails.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// TranscriptSink accepts finalized transcript fragments. Implementations
// must be safe for concurrent use.
type TranscriptSink interface {
	Append(role, content string, ts time.Time)
}

// ToolInvoker executes a tool requested by the model and returns its result
// within the turn.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, input string) (string, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Transcript receives text output fragments. Optional.
	Transcript TranscriptSink

	// Tools handles toolUse events. Optional; toolUse is logged and
	// skipped when nil.
	Tools ToolInvoker

	// QueueSize bounds the outbound audio frame queue.
	// Defaults to DefaultFrameQueueSize.
	QueueSize int

	// Bus receives typed routing events. Optional.
	Bus *events.Bus
}

// Dispatcher is the single reader loop for one session: it pulls inbound
// wire events off the duplex connection, decodes them, and routes each
// variant to its sink. One malformed event is logged and skipped; a
// transport read failure terminates the loop and fails the session.
type Dispatcher struct {
	session  *Session
	receiver Receiver
	cfg      DispatcherConfig
	frames   chan []byte

	mu         sync.Mutex
	role       Role
	kind       Kind
	kinds      map[string]Kind
	suppress   bool
	turnAudio  []byte
	turnDone   chan struct{}
	text       map[Role]*strings.Builder
	speculated strings.Builder
}

// NewDispatcher creates a dispatcher for the session. Call Run to start the
// read loop.
func NewDispatcher(session *Session, receiver Receiver, cfg DispatcherConfig) (*Dispatcher, error) {
	if session == nil {
		return nil, fmt.Errorf("s2s: session is required")
	}
	if receiver == nil {
		return nil, fmt.Errorf("s2s: receiver is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultFrameQueueSize
	}
	return &Dispatcher{
		session:  session,
		receiver: receiver,
		cfg:      cfg,
		frames:   make(chan []byte, cfg.QueueSize),
		turnDone: make(chan struct{}, 1),
		kinds:    make(map[string]Kind),
		text:     make(map[Role]*strings.Builder),
	}, nil
}

// Frames returns the outbound audio queue: one fully reassembled PCM frame
// per assistant audio turn. The channel is closed when the read loop exits,
// so consumers never block on a dead session.
func (d *Dispatcher) Frames() <-chan []byte {
	return d.frames
}

// TurnDone signals each time the remote side reports the current turn's
// inbound stream finished (completionEnd).
func (d *Dispatcher) TurnDone() <-chan struct{} {
	return d.turnDone
}

// Text returns the accumulated text for a role.
func (d *Dispatcher) Text(role Role) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.text[role]; ok {
		return b.String()
	}
	return ""
}

// Run executes the read loop until the context is canceled or the transport
// fails. On transport loss the session is failed with EndReasonTransportLost
// and the frame queue is closed, unblocking any consumer.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.frames)

	for {
		data, err := d.receiver.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || d.session.State() == StateEnded {
				return nil
			}
			d.session.Fail(EndReasonTransportLost)
			return fmt.Errorf("%w: %v", ErrTransportLost, err)
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			// One bad event must not kill the session.
			logger.Warn("skipping malformed event",
				"session_id", d.session.ID(), "error", err)
			continue
		}

		if err := d.route(ctx, ev); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, ev *Event) error {
	switch {
	case ev.ContentStart != nil:
		d.handleContentStart(ev.ContentStart)
	case ev.TextOutput != nil:
		d.handleTextOutput(ev.TextOutput)
	case ev.AudioOutput != nil:
		return d.handleAudioOutput(ctx, ev.AudioOutput)
	case ev.ToolUse != nil:
		d.handleToolUse(ctx, ev.ToolUse)
	case ev.ContentEnd != nil:
		return d.handleContentEnd(ctx, ev.ContentEnd)
	case ev.CompletionEnd != nil:
		return d.handleCompletionEnd(ctx)
	case ev.Usage != nil:
		d.handleUsage(ev.Usage)
	default:
		logger.Debug("ignoring event", "session_id", d.session.ID(), "kind", ev.Kind())
	}
	return nil
}

// handleContentStart records the inbound role and kind for subsequent
// routing. A SPECULATIVE generation stage suppresses assistant text until a
// non-speculative marker arrives, so retracted output never reaches the
// transcript.
func (d *Dispatcher) handleContentStart(ev *ContentStartEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.role = ev.Role
	if ev.Type != "" {
		d.kind = ev.Type
		if ev.ContentName != "" {
			d.kinds[ev.ContentName] = ev.Type
		}
	}

	if ev.Role == RoleAssistant {
		stage := ev.GenerationStage()
		d.suppress = stage == StageSpeculative
		if !d.suppress {
			// The non-speculative stream re-delivers the final text;
			// the withheld speculative copy is discarded.
			d.speculated.Reset()
		}
	}
}

func (d *Dispatcher) handleTextOutput(ev *TextOutputEvent) {
	d.mu.Lock()
	role := ev.Role
	if role == "" {
		role = d.role
	}
	b, ok := d.text[role]
	if !ok {
		b = &strings.Builder{}
		d.text[role] = b
	}
	b.WriteString(ev.Content)

	suppressed := role == RoleAssistant && d.suppress
	if suppressed {
		d.speculated.WriteString(ev.Content)
	}
	d.mu.Unlock()

	if suppressed || d.cfg.Transcript == nil {
		return
	}
	d.cfg.Transcript.Append(string(role), ev.Content, time.Now())
	d.cfg.Bus.Publish(events.New(events.EventTranscriptUpdated, d.session.ID(), map[string]interface{}{
		"role": string(role),
	}))
}

func (d *Dispatcher) handleAudioOutput(ctx context.Context, ev *AudioOutputEvent) error {
	pcm, err := ev.Decoded()
	if err != nil {
		logger.Warn("skipping undecodable audio payload",
			"session_id", d.session.ID(), "error", err)
		return nil
	}

	d.mu.Lock()
	d.turnAudio = append(d.turnAudio, pcm...)
	d.mu.Unlock()
	return nil
}

// handleToolUse invokes the tool collaborator and feeds the result back on a
// fresh TOOL content stream. Each call mints its own content id.
func (d *Dispatcher) handleToolUse(ctx context.Context, ev *ToolUseEvent) {
	if d.cfg.Tools == nil {
		logger.Warn("no tool handler registered",
			"session_id", d.session.ID(), "tool", ev.ToolName)
		return
	}

	result, err := d.cfg.Tools.Invoke(ctx, ev.ToolName, ev.Input)
	status := "ok"
	if err != nil {
		status = "error"
		logger.Warn("tool invocation failed",
			"session_id", d.session.ID(), "tool", ev.ToolName, "error", err)
		result = fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	d.cfg.Bus.Publish(events.New(events.EventToolInvoked, d.session.ID(), map[string]interface{}{
		"tool":   ev.ToolName,
		"status": status,
	}))

	contentID, err := d.session.OpenContent(ctx, ContentSpec{
		Role:      RoleTool,
		Kind:      KindTool,
		ToolUseID: ev.ToolUseID,
	})
	if err != nil {
		logger.Warn("cannot open tool result stream",
			"session_id", d.session.ID(), "tool", ev.ToolName, "error", err)
		return
	}
	if err := d.session.Feed(ctx, contentID, []byte(result)); err != nil {
		logger.Warn("cannot feed tool result",
			"session_id", d.session.ID(), "tool", ev.ToolName, "error", err)
		return
	}
	if err := d.session.CloseContent(ctx, contentID); err != nil {
		logger.Warn("cannot close tool result stream",
			"session_id", d.session.ID(), "tool", ev.ToolName, "error", err)
	}
}

// handleContentEnd resolves which stream is closing and flushes the turn's
// audio when it is the audio one. Events that omit type are matched against
// the kind recorded at their contentStart; the last-started-kind slot is a
// fallback for nameless events and is consumed by the flush so a stale AUDIO
// value can never split a later turn across two frames.
func (d *Dispatcher) handleContentEnd(ctx context.Context, ev *ContentEndEvent) error {
	d.mu.Lock()
	kind := ev.Type
	if kind == "" {
		if named, ok := d.kinds[ev.ContentName]; ok && ev.ContentName != "" {
			kind = named
		} else {
			kind = d.kind
		}
	}
	delete(d.kinds, ev.ContentName)
	isAudio := kind == KindAudio
	if isAudio {
		d.kind = ""
	}
	d.mu.Unlock()

	if isAudio {
		return d.flushFrame(ctx)
	}
	return nil
}

func (d *Dispatcher) handleCompletionEnd(ctx context.Context) error {
	if err := d.flushFrame(ctx); err != nil {
		return err
	}
	select {
	case d.turnDone <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) handleUsage(ev *UsageEvent) {
	d.cfg.Bus.Publish(events.New(events.EventUsageReported, d.session.ID(), map[string]interface{}{
		"input_tokens":  ev.TotalInputTokens,
		"output_tokens": ev.TotalOutputTokens,
		"total_tokens":  ev.TotalTokens,
	}))
}

// flushFrame pushes the accumulated turn audio onto the frame queue as one
// contiguous frame. The push blocks when the queue is full; cancellation
// unblocks it so a producer is never left hanging on a dead session.
func (d *Dispatcher) flushFrame(ctx context.Context) error {
	d.mu.Lock()
	frame := d.turnAudio
	d.turnAudio = nil
	d.mu.Unlock()

	if len(frame) == 0 {
		return nil
	}

	select {
	case d.frames <- frame:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.cfg.Bus.Publish(events.New(events.EventAudioFrameReady, d.session.ID(), map[string]interface{}{
		"bytes": len(frame),
	}))
	return nil
}
