// Package stream turns an output stream into framed server-sent events
// written to a caller-owned sink. Frames are written strictly in call order,
// a done or error frame is always terminal, and heartbeats are comment
// frames that generic SSE parsers ignore.
package stream

import (
	"errors"
	"fmt"
)

// Event is the closed set of frame kinds a stream can carry. Chunk frames
// may repeat; Error and Done are terminal; Heartbeat can appear anywhere
// before the terminal frame.
type Event interface {
	isEvent()
}

// Chunk is one piece of incremental response text.
type Chunk struct {
	// Name overrides the SSE event name. Empty means "message".
	Name string

	// Payload is JSON-serialized into the data line. A string payload for
	// the default message event is wrapped as {"content": ...}.
	Payload any
}

// ErrorEvent reports a failure to the client and terminates the stream.
type ErrorEvent struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Heartbeat is a comment-style keep-alive frame.
type Heartbeat struct{}

// Done terminates the stream normally.
type Done struct {
	Message string `json:"message,omitempty"`
}

func (Chunk) isEvent()      {}
func (ErrorEvent) isEvent() {}
func (Heartbeat) isEvent()  {}
func (Done) isEvent()       {}

// ErrStreamClosed indicates a write was attempted after the terminal frame.
var ErrStreamClosed = errors.New("stream already closed")

// WriteError wraps a sink write failure. It propagates out of the blocking
// streaming calls; best-effort sends only log it.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("stream write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
