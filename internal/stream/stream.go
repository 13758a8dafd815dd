package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Stream frames events onto one caller-owned sink. All writes go through a
// single mutex, so frames are never reordered or merged even when multiple
// goroutines share the stream. A Stream is single-use: once Close or
// SendError has written the terminal frame, further frames are rejected.
type Stream struct {
	w      io.Writer
	logger *slog.Logger

	// OnFrame, when set before the first frame, observes the event name of
	// every frame written. Called under the write lock.
	OnFrame func(name string)

	mu     sync.Mutex
	closed bool

	heartbeatMu   sync.Mutex
	heartbeatStop chan struct{}
}

// New wraps a sink in a Stream. When the sink is an http.ResponseWriter the
// three SSE headers are set before any frame is written.
func New(w io.Writer) *Stream {
	if rw, ok := w.(http.ResponseWriter); ok {
		header := rw.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
	}
	return &Stream{
		w:      w,
		logger: slog.Default().With("component", "stream"),
	}
}

// Options control paced streaming.
type Options struct {
	// ChunkSize splits StreamResponse text into pieces of this many bytes.
	// Zero sends the whole text as one frame.
	ChunkSize int

	// Delay pauses between frames. Cooperative; only the calling goroutine
	// waits.
	Delay time.Duration
}

// SendEvent writes one named frame. Best-effort: a write failure is logged
// and swallowed so instrumentation-grade sends never fail the turn.
func (s *Stream) SendEvent(name string, payload any) {
	if err := s.Send(Chunk{Name: name, Payload: payload}); err != nil && !errors.Is(err, ErrStreamClosed) {
		s.logger.Warn("dropped stream event", "event", name, "error", err)
	}
}

// Send writes one event frame and returns any write failure. Terminal events
// close the stream; events after the terminal frame fail with ErrStreamClosed.
func (s *Stream) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	frame, name, terminal, err := encodeFrame(event)
	if err != nil {
		return err
	}
	if terminal {
		s.closed = true
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		return &WriteError{Err: err}
	}
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
	if s.OnFrame != nil {
		s.OnFrame(name)
	}
	return nil
}

// StreamResponse splits text into ceil(len/chunkSize) message frames in
// order, optionally pausing between frames, and always ends with a done
// frame. A write failure propagates immediately.
func (s *Stream) StreamResponse(ctx context.Context, text string, opts Options) error {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = len(text)
	}

	for start := 0; start < len(text); start += chunkSize {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		if err := s.Send(Chunk{Payload: text[start:end]}); err != nil {
			return err
		}
		if opts.Delay > 0 && end < len(text) {
			if err := pause(ctx, opts.Delay); err != nil {
				return err
			}
		}
	}
	return s.Send(Done{})
}

// StreamChunks emits one frame per element in input order plus a trailing
// done frame. An empty list emits only the done frame.
func (s *Stream) StreamChunks(ctx context.Context, chunks []string, opts Options) error {
	for i, chunk := range chunks {
		if err := s.Send(Chunk{Payload: chunk}); err != nil {
			return err
		}
		if opts.Delay > 0 && i < len(chunks)-1 {
			if err := pause(ctx, opts.Delay); err != nil {
				return err
			}
		}
	}
	return s.Send(Done{})
}

// SendError writes the terminal error frame. Any value is accepted; non-Error
// values are coerced to a string message.
func (s *Stream) SendError(cause any) {
	event := ErrorEvent{}
	switch v := cause.(type) {
	case nil:
		event.Message = "unknown error"
	case error:
		event.Message = v.Error()
		if detail := errorDetail(v); detail != "" {
			event.Detail = detail
		}
	default:
		event.Message = fmt.Sprint(v)
	}
	if err := s.Send(event); err != nil && !errors.Is(err, ErrStreamClosed) {
		s.logger.Warn("failed to deliver error frame", "error", err)
	}
}

// Close writes the terminal done frame, stopping any active heartbeat first.
// Closing an already-closed stream is a no-op.
func (s *Stream) Close(finalMessage string) {
	s.StopHeartbeat()
	if err := s.Send(Done{Message: finalMessage}); err != nil && !errors.Is(err, ErrStreamClosed) {
		s.logger.Warn("failed to deliver done frame", "error", err)
	}
}

// encodeFrame renders one event as SSE text and returns the event name and
// whether the frame is terminal.
func encodeFrame(event Event) (string, string, bool, error) {
	switch e := event.(type) {
	case Heartbeat:
		return ":heartbeat\n\n", "heartbeat", false, nil
	case Chunk:
		name := e.Name
		payload := e.Payload
		if name == "" {
			name = "message"
			if text, ok := payload.(string); ok {
				payload = map[string]string{"content": text}
			}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", "", false, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data), name, false, nil
	case ErrorEvent:
		data, err := json.Marshal(e)
		if err != nil {
			return "", "", false, fmt.Errorf("marshal error payload: %w", err)
		}
		return fmt.Sprintf("event: error\ndata: %s\n\n", data), "error", true, nil
	case Done:
		data, err := json.Marshal(e)
		if err != nil {
			return "", "", false, fmt.Errorf("marshal done payload: %w", err)
		}
		return fmt.Sprintf("event: done\ndata: %s\n\n", data), "done", true, nil
	default:
		return "", "", false, fmt.Errorf("unknown event type %T", event)
	}
}

// errorDetail extracts a wrapped cause chain for the error frame detail.
func errorDetail(err error) string {
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return ""
}

// pause waits cooperatively for d or until the context is canceled.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
