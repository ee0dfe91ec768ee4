package main

import (
	"testing"
	"time"

	"github.com/sonicbridge/voicewire/transcript"
)

// capturingLog records Info calls the way the session logger receives them.
type capturingLog struct {
	msgs []string
	args [][]any
}

func (l *capturingLog) Info(msg string, args ...any) {
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

// Every transcript fragment must land in both the session log and the
// in-memory record.
func TestSessionTranscriptTeesToLogAndMemory(t *testing.T) {
	log := &capturingLog{}
	record := transcript.NewMemory()
	sink := sessionTranscript(log, record)

	now := time.Now()
	sink.Append("USER", "hello", now)
	sink.Append("ASSISTANT", "hi there", now)

	entries := record.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 recorded entries, got %d", len(entries))
	}
	if entries[0].Role != "USER" || entries[0].Content != "hello" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Role != "ASSISTANT" || entries[1].Content != "hi there" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	if got := record.Text("ASSISTANT"); got != "hi there" {
		t.Errorf("unexpected assistant text: %q", got)
	}

	if len(log.msgs) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(log.msgs))
	}
	for i, msg := range log.msgs {
		if msg != "transcript" {
			t.Errorf("log line %d: expected transcript message, got %q", i, msg)
		}
	}
}
