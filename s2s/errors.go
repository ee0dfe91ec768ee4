package s2s

import "errors"

// Protocol contract violations are surfaced as typed errors so callers can
// distinguish programming mistakes from transport failures.
var (
	// ErrInvalidState is returned when an operation is called out of sequence.
	ErrInvalidState = errors.New("s2s: operation invalid in current state")

	// ErrUnknownContent is returned when a content id is not open. It usually
	// indicates a stale reference from an abandoned turn.
	ErrUnknownContent = errors.New("s2s: unknown content id")

	// ErrAlreadyEnded is returned by operations on a session that reached a
	// terminal state. End itself reports it instead of re-emitting events.
	ErrAlreadyEnded = errors.New("s2s: session already ended")

	// ErrContentActive is returned by End while content streams are still open.
	ErrContentActive = errors.New("s2s: content streams still active")

	// ErrTransportLost indicates the underlying duplex connection failed.
	// It is terminal for the session.
	ErrTransportLost = errors.New("s2s: transport lost")

	// ErrMalformedEvent indicates an inbound wire payload could not be decoded.
	// The dispatcher recovers from it locally; it never aborts a session.
	ErrMalformedEvent = errors.New("s2s: malformed event")
)
