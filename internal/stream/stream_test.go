package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// frames splits raw SSE output into individual frames.
func frames(raw string) []string {
	trimmed := strings.TrimSuffix(raw, "\n\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n\n")
}

func TestNew_SetsSSEHeaders(t *testing.T) {
	recorder := httptest.NewRecorder()
	New(recorder)

	header := recorder.Header()
	if got := header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := header.Get("Connection"); got != "keep-alive" {
		t.Errorf("Connection = %q", got)
	}
}

func TestSendEvent_PayloadRoundTrip(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	s.SendEvent("tool_call_start", map[string]any{"tool": "lookup_student", "index": 0})

	got := sink.String()
	if !strings.HasPrefix(got, "event: tool_call_start\n") {
		t.Errorf("missing event line: %q", got)
	}
	if !strings.Contains(got, `data: {"index":0,"tool":"lookup_student"}`) {
		t.Errorf("payload not serialized into data line: %q", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("frame not terminated by blank line: %q", got)
	}
}

func TestStreamChunks_EmptyEmitsOnlyDone(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	if err := s.StreamChunks(context.Background(), nil, Options{}); err != nil {
		t.Fatalf("StreamChunks: %v", err)
	}
	got := frames(sink.String())
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], "event: done\n") {
		t.Errorf("lone frame must be done: %q", got[0])
	}
}

func TestStreamChunks_OrderAndTrailingDone(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	if err := s.StreamChunks(context.Background(), []string{"a", "b", "c"}, Options{}); err != nil {
		t.Fatalf("StreamChunks: %v", err)
	}
	got := frames(sink.String())
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if !strings.Contains(got[i], fmt.Sprintf(`{"content":%q}`, want)) {
			t.Errorf("frame %d should carry %q: %q", i, want, got[i])
		}
	}
	if !strings.HasPrefix(got[3], "event: done\n") {
		t.Errorf("final frame must be done: %q", got[3])
	}
}

func TestStreamResponse_ChunkCount(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	// 10 chars at chunkSize 4 -> ceil(10/4) = 3 message frames + done.
	if err := s.StreamResponse(context.Background(), "0123456789", Options{ChunkSize: 4}); err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	got := frames(sink.String())
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], `"0123"`) || !strings.Contains(got[1], `"4567"`) || !strings.Contains(got[2], `"89"`) {
		t.Errorf("chunks split incorrectly: %v", got[:3])
	}
}

func TestSend_NothingAfterTerminalFrame(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	s.Close("all done")
	if err := s.Send(Chunk{Payload: "late"}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	got := frames(sink.String())
	if len(got) != 1 {
		t.Errorf("no frame may follow done, got %d frames", len(got))
	}
	// Closing twice is a no-op, not a second frame.
	s.Close("again")
	if len(frames(sink.String())) != 1 {
		t.Error("double close wrote a second terminal frame")
	}
}

func TestSendError_IsTerminal(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	s.SendError(fmt.Errorf("turn failed: %w", errors.New("provider unreachable")))
	got := sink.String()
	if !strings.Contains(got, `"message":"turn failed: provider unreachable"`) {
		t.Errorf("message missing: %q", got)
	}
	if !strings.Contains(got, `"detail":"provider unreachable"`) {
		t.Errorf("wrapped detail missing: %q", got)
	}

	if err := s.Send(Done{}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("error frame must terminate the stream, got %v", err)
	}
}

func TestSendError_CoercesNonErrorValues(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	s.SendError("something string-shaped")
	if !strings.Contains(sink.String(), `"message":"something string-shaped"`) {
		t.Errorf("non-error value not coerced: %q", sink.String())
	}
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStreamResponse_WriteFailurePropagates(t *testing.T) {
	s := New(failingWriter{})

	err := s.StreamResponse(context.Background(), "hello", Options{})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
}

func TestSendEvent_WriteFailureIsSwallowed(t *testing.T) {
	s := New(failingWriter{})
	// Must not panic or propagate.
	s.SendEvent("message", "best effort")
}

func TestOnFrame_ObservesEveryWrittenFrame(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	var names []string
	s.OnFrame = func(name string) { names = append(names, name) }

	s.SendEvent("tool_call_start", map[string]any{"tool": "lookup"})
	if err := s.Send(Heartbeat{}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	s.Close("")

	want := []string{"tool_call_start", "heartbeat", "done"}
	if len(names) != len(want) {
		t.Fatalf("observed %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("frame %d = %q, want %q", i, names[i], name)
		}
	}

	// Rejected frames are not observed.
	s.SendEvent("message", "late")
	if len(names) != len(want) {
		t.Errorf("frame after close observed: %v", names)
	}
}

func TestHeartbeat_CommentFrame(t *testing.T) {
	var sink bytes.Buffer
	s := New(&sink)

	s.SendHeartbeat()
	if sink.String() != ":heartbeat\n\n" {
		t.Errorf("heartbeat frame = %q", sink.String())
	}
}

func TestHeartbeat_StartStop(t *testing.T) {
	var sink syncBuffer
	s := New(&sink)

	s.StartHeartbeat(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	s.StopHeartbeat()
	written := len(sink.Snapshot())

	time.Sleep(30 * time.Millisecond)
	if len(sink.Snapshot()) != written {
		t.Error("heartbeats continued after stop")
	}
	if written == 0 {
		t.Error("no heartbeats written while running")
	}

	// Stop is idempotent, restart replaces cleanly.
	s.StopHeartbeat()
	s.StartHeartbeat(10 * time.Millisecond)
	s.StartHeartbeat(10 * time.Millisecond)
	s.StopHeartbeat()
}

// syncBuffer is a goroutine-safe buffer for heartbeat tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
