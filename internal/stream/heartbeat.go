package stream

import (
	"time"
)

// SendHeartbeat writes one comment-style keep-alive frame.
func (s *Stream) SendHeartbeat() {
	if err := s.Send(Heartbeat{}); err != nil {
		s.logger.Debug("heartbeat dropped", "error", err)
	}
}

// StartHeartbeat schedules repeated heartbeat frames until StopHeartbeat is
// called or the stream closes. Starting a new heartbeat replaces a running
// one; the previous timer never leaks.
func (s *Stream) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	s.heartbeatMu.Lock()
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
	}
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.heartbeatMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				s.SendHeartbeat()
			}
		}
	}()
}

// StopHeartbeat halts the heartbeat timer. Idempotent; safe to call when no
// heartbeat is running.
func (s *Stream) StopHeartbeat() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}
