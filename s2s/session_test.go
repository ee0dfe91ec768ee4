package s2s

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
)

// captureSender records every wire message. failAfter, when positive, makes
// the sender error once that many messages have been accepted.
type captureSender struct {
	mu        sync.Mutex
	sent      [][]byte
	failAfter int
}

func (s *captureSender) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.sent) >= s.failAfter {
		return errors.New("connection reset")
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *captureSender) kinds(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, 0, len(s.sent))
	for _, data := range s.sent {
		ev, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("captured message does not decode: %v", err)
		}
		kinds = append(kinds, ev.Kind())
	}
	return kinds
}

func (s *captureSender) event(t *testing.T, i int) *Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	if i >= len(s.sent) {
		t.Fatalf("only %d messages captured, wanted index %d", len(s.sent), i)
	}
	ev, err := DecodeEvent(s.sent[i])
	if err != nil {
		t.Fatalf("captured message does not decode: %v", err)
	}
	return ev
}

func startedSession(t *testing.T) (*Session, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	s, err := NewSession(sender, SessionConfig{})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return s, sender
}

func TestStartEmitsSessionStartThenPromptStart(t *testing.T) {
	s, sender := startedSession(t)

	kinds := sender.kinds(t)
	if len(kinds) != 2 || kinds[0] != "sessionStart" || kinds[1] != "promptStart" {
		t.Fatalf("expected [sessionStart promptStart], got %v", kinds)
	}
	if s.State() != StatePromptStarted {
		t.Errorf("expected StatePromptStarted, got %s", s.State())
	}
	if s.PromptID() == "" {
		t.Error("expected a prompt id after start")
	}

	ps := sender.event(t, 1).PromptStart
	if ps.PromptName != s.PromptID() {
		t.Errorf("promptStart carries %q, session reports %q", ps.PromptName, s.PromptID())
	}
}

func TestStartTwiceIsInvalid(t *testing.T) {
	s, _ := startedSession(t)
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestOpenContentBeforeStartIsInvalid(t *testing.T) {
	s, err := NewSession(&captureSender{}, SessionConfig{})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	_, err = s.OpenContent(context.Background(), ContentSpec{Role: RoleUser, Kind: KindAudio})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestContentLifecycleEmitsInCallOrder(t *testing.T) {
	s, sender := startedSession(t)
	ctx := context.Background()

	id, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindAudio})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	payloads := [][]byte{{1, 1}, {2, 2}, {3, 3}}
	for _, p := range payloads {
		if err := s.Feed(ctx, id, p); err != nil {
			t.Fatalf("feed failed: %v", err)
		}
	}
	if err := s.CloseContent(ctx, id); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	kinds := sender.kinds(t)
	want := []string{"sessionStart", "promptStart", "contentStart", "audioInput", "audioInput", "audioInput", "contentEnd"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}

	// Payloads must reach the wire in call order.
	for i, p := range payloads {
		ev := sender.event(t, 3+i).AudioInput
		decoded, err := base64.StdEncoding.DecodeString(ev.Content)
		if err != nil {
			t.Fatalf("audio payload is not base64: %v", err)
		}
		if decoded[0] != p[0] {
			t.Errorf("payload %d out of order: got %v", i, decoded)
		}
		if ev.ContentName != id {
			t.Errorf("payload %d carries content %q, want %q", i, ev.ContentName, id)
		}
	}
}

func TestFeedUnknownContent(t *testing.T) {
	s, _ := startedSession(t)
	if err := s.Feed(context.Background(), "no-such-id", []byte("x")); !errors.Is(err, ErrUnknownContent) {
		t.Errorf("expected ErrUnknownContent, got %v", err)
	}
}

func TestFeedAfterCloseIsUnknownContent(t *testing.T) {
	s, _ := startedSession(t)
	ctx := context.Background()

	id, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindText})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.CloseContent(ctx, id); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := s.Feed(ctx, id, []byte("late")); !errors.Is(err, ErrUnknownContent) {
		t.Errorf("expected ErrUnknownContent, got %v", err)
	}
	if err := s.CloseContent(ctx, id); !errors.Is(err, ErrUnknownContent) {
		t.Errorf("expected ErrUnknownContent on double close, got %v", err)
	}
}

func TestAudioTurnsGetDistinctContentIDs(t *testing.T) {
	s, _ := startedSession(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindAudio})
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("content id %q reused", id)
		}
		seen[id] = true
		if err := s.CloseContent(ctx, id); err != nil {
			t.Fatalf("close %d failed: %v", i, err)
		}
	}
}

func TestSecondOpenOfSameKindIsInvalid(t *testing.T) {
	s, _ := startedSession(t)
	ctx := context.Background()

	if _, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindAudio}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindAudio}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	// A different kind may open concurrently, as a tool result does while
	// audio streams.
	if _, err := s.OpenContent(ctx, ContentSpec{Role: RoleTool, Kind: KindTool, ToolUseID: "tu1"}); err != nil {
		t.Errorf("expected concurrent TOOL stream to open, got %v", err)
	}
}

func TestToolContentRequiresToolUseID(t *testing.T) {
	s, _ := startedSession(t)
	_, err := s.OpenContent(context.Background(), ContentSpec{Role: RoleTool, Kind: KindTool})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestEndEmitsPromptEndThenSessionEnd(t *testing.T) {
	s, sender := startedSession(t)

	if err := s.End(context.Background()); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	kinds := sender.kinds(t)
	want := []string{"sessionStart", "promptStart", "promptEnd", "sessionEnd"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if s.State() != StateEnded {
		t.Errorf("expected StateEnded, got %s", s.State())
	}
	if s.Reason() != EndReasonNormal {
		t.Errorf("expected EndReasonNormal, got %q", s.Reason())
	}
}

func TestOperationsAfterEndReportAlreadyEnded(t *testing.T) {
	s, sender := startedSession(t)
	ctx := context.Background()

	if err := s.End(ctx); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	emitted := len(sender.kinds(t))

	if err := s.End(ctx); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("expected ErrAlreadyEnded from End, got %v", err)
	}
	if _, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindText}); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("expected ErrAlreadyEnded from OpenContent, got %v", err)
	}
	if err := s.Feed(ctx, "any", []byte("x")); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("expected ErrAlreadyEnded from Feed, got %v", err)
	}

	// The terminal state must not re-emit anything.
	if got := len(sender.kinds(t)); got != emitted {
		t.Errorf("expected %d wire messages, got %d", emitted, got)
	}
}

func TestEndWithOpenContentFails(t *testing.T) {
	s, _ := startedSession(t)
	ctx := context.Background()

	id, err := s.OpenContent(ctx, ContentSpec{Role: RoleUser, Kind: KindAudio})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.End(ctx); !errors.Is(err, ErrContentActive) {
		t.Errorf("expected ErrContentActive, got %v", err)
	}

	if err := s.CloseContent(ctx, id); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("end failed after closing content: %v", err)
	}
}

func TestSendFailureTerminatesSession(t *testing.T) {
	sender := &captureSender{failAfter: 2}
	s, err := NewSession(sender, SessionConfig{})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, err = s.OpenContent(context.Background(), ContentSpec{Role: RoleUser, Kind: KindAudio})
	if !errors.Is(err, ErrTransportLost) {
		t.Fatalf("expected ErrTransportLost, got %v", err)
	}
	if s.State() != StateEnded {
		t.Errorf("expected StateEnded, got %s", s.State())
	}
	if s.Reason() != EndReasonTransportLost {
		t.Errorf("expected EndReasonTransportLost, got %q", s.Reason())
	}
}

func TestFailIsTerminalAndIdempotent(t *testing.T) {
	s, sender := startedSession(t)

	s.Fail(EndReasonTransportLost)
	if s.State() != StateEnded {
		t.Fatalf("expected StateEnded, got %s", s.State())
	}
	emitted := len(sender.kinds(t))

	// A second failure or a late End changes nothing.
	s.Fail(EndReasonTransportLost)
	if err := s.End(context.Background()); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("expected ErrAlreadyEnded, got %v", err)
	}
	if got := len(sender.kinds(t)); got != emitted {
		t.Errorf("expected no wire traffic after failure, got %d extra", got-emitted)
	}
}
