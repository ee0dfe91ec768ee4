package s2s

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// envelope is the wire wrapper: every message is {"event":{<tag>:{...}}}.
type envelope struct {
	Event json.RawMessage `json:"event"`
}

// EncodeEvent serializes a protocol event to its wire representation.
func EncodeEvent(e *Event) ([]byte, error) {
	if e == nil || e.Kind() == "" {
		return nil, fmt.Errorf("%w: no variant populated", ErrMalformedEvent)
	}
	inner, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Event: inner})
}

// DecodeEvent parses a wire message into an Event. A recognizable envelope
// with an unknown tag yields an Event whose UnknownTag is set, not an error,
// so callers can log and skip it.
func DecodeEvent(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(env.Event) == 0 {
		return nil, fmt.Errorf("%w: missing event key", ErrMalformedEvent)
	}

	var e Event
	if err := json.Unmarshal(env.Event, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Kind() != "" {
		return &e, nil
	}

	// No known variant matched; recover the tag for logging.
	var tags map[string]json.RawMessage
	if err := json.Unmarshal(env.Event, &tags); err != nil || len(tags) == 0 {
		return nil, fmt.Errorf("%w: empty event", ErrMalformedEvent)
	}
	for tag := range tags {
		e.UnknownTag = tag
		break
	}
	return &e, nil
}

const exceptionEventType = "exception"

// FrameScanner decodes AWS binary event-stream frames from the remote
// service's response stream. Each frame's payload is JSON like
// {"bytes":"<base64>"} where the decoded bytes are one wire event envelope.
type FrameScanner struct {
	decoder *eventstream.Decoder
	reader  io.Reader
	buf     []byte
	data    []byte
	err     error
}

type framePayload struct {
	Bytes string `json:"bytes"`
}

// NewFrameScanner creates a scanner reading binary event-stream frames from r.
func NewFrameScanner(r io.Reader) *FrameScanner {
	return &FrameScanner{
		decoder: eventstream.NewDecoder(),
		reader:  r,
		buf:     make([]byte, 0, 4096),
	}
}

// Scan reads the next frame. Returns true when an event payload was decoded,
// false on EOF or error.
func (s *FrameScanner) Scan() bool {
	for {
		msg, err := s.decoder.Decode(s.reader, s.buf)
		if err != nil {
			if err != io.EOF {
				s.err = fmt.Errorf("decode event-stream frame: %w", err)
			}
			return false
		}

		if isExceptionFrame(msg) {
			s.err = fmt.Errorf("remote stream exception: %s", string(msg.Payload))
			return false
		}

		data, ok := s.decodePayload(msg)
		if !ok {
			continue
		}
		s.data = data
		return true
	}
}

func isExceptionFrame(msg eventstream.Message) bool {
	for _, header := range []string{":event-type", ":message-type"} {
		if val := msg.Headers.Get(header); val != nil {
			if str, ok := val.(eventstream.StringValue); ok && string(str) == exceptionEventType {
				return true
			}
		}
	}
	return false
}

func (s *FrameScanner) decodePayload(msg eventstream.Message) ([]byte, bool) {
	var payload framePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, false
	}
	if payload.Bytes == "" {
		return nil, false
	}

	decoded, err := base64.StdEncoding.DecodeString(payload.Bytes)
	if err != nil {
		s.err = fmt.Errorf("decode base64 frame payload: %w", err)
		return nil, false
	}
	return decoded, true
}

// Data returns the event envelope from the last scanned frame.
func (s *FrameScanner) Data() []byte {
	return s.data
}

// Err returns any error encountered during scanning.
func (s *FrameScanner) Err() error {
	return s.err
}
