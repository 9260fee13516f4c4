package stream

import "fmt"

// EventKind discriminates the closed set of stream event types.
type EventKind string

const (
	// KindDelta is an incremental fragment of generated text.
	KindDelta EventKind = "delta"
	// KindFinalText carries the complete generated text in one event.
	KindFinalText EventKind = "final"
	// KindError is a terminal failure; exactly one may appear per stream.
	KindError EventKind = "error"
	// KindDone marks the end of a stream. It is always the last event,
	// including after an error.
	KindDone EventKind = "done"
)

// ErrorCode classifies terminal stream errors for clients.
type ErrorCode string

const (
	ErrCodeBackendTimeout ErrorCode = "BackendTimeout"
	ErrCodeBackendError   ErrorCode = "BackendError"
	ErrCodeCancelled      ErrorCode = "Cancelled"
)

// Event is the tagged union produced by backend adapters and relayed by the
// orchestrator. Events are ephemeral: observed in transit, never stored.
type Event struct {
	Kind EventKind `json:"kind"`

	// Text payload for Delta and FinalText events.
	Text string `json:"text,omitempty"`

	// Error fields, set only for KindError.
	ErrCode    ErrorCode `json:"err_code,omitempty"`
	ErrMessage string    `json:"err_message,omitempty"`
}

// Delta builds an incremental text event.
func Delta(text string) Event {
	return Event{Kind: KindDelta, Text: text}
}

// FinalText builds a single-shot full text event.
func FinalText(text string) Event {
	return Event{Kind: KindFinalText, Text: text}
}

// Errorf builds a terminal error event.
func Errorf(code ErrorCode, format string, args ...interface{}) Event {
	return Event{Kind: KindError, ErrCode: code, ErrMessage: fmt.Sprintf(format, args...)}
}

// Done builds the terminal sentinel event.
func Done() Event {
	return Event{Kind: KindDone}
}

// Terminal reports whether the event ends a stream's payload phase.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}
