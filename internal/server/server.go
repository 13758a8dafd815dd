// Package server exposes the operator's HTTP surface: the SSE chat
// endpoint, health, Prometheus metrics, and the plain-text admin reports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/internal/perf"
	"github.com/haasonsaas/operator/internal/runtime"
	"github.com/haasonsaas/operator/internal/stream"
	"github.com/haasonsaas/operator/internal/tokens"
	"github.com/haasonsaas/operator/internal/tracing"
)

// Config holds the server's listen and stream settings.
type Config struct {
	Addr              string
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Server wires the runtime and monitors to HTTP handlers.
type Server struct {
	runtime *runtime.Runtime
	perf    *perf.Monitor
	tracer  *tracing.Tracer
	tokens  *tokens.Monitor
	metrics *observability.Metrics
	config  Config
	logger  *slog.Logger
}

// New creates a server. The metrics registry may be nil; /metrics then
// serves the default empty registry page.
func New(rt *runtime.Runtime, perfMon *perf.Monitor, tracer *tracing.Tracer,
	tokenMon *tokens.Monitor, metrics *observability.Metrics, config Config) *Server {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	return &Server{
		runtime: rt,
		perf:    perfMon,
		tracer:  tracer,
		tokens:  tokenMon,
		metrics: metrics,
		config:  config,
		logger:  slog.Default().With("component", "server"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/reports/performance", s.handlePerformanceReport)
	mux.HandleFunc("GET /v1/reports/traces", s.handleTraceReport)
	mux.HandleFunc("GET /v1/reports/tokens", s.handleTokenReport)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleChat runs one agent turn and streams the answer as SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req runtime.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	ctx := observability.WithRequestID(r.Context(), uuid.New().String())
	if req.UserID != "" {
		ctx = observability.WithUserID(ctx, req.UserID)
	}

	sink := stream.New(w)
	if s.metrics != nil {
		sink.OnFrame = func(name string) {
			s.metrics.StreamEventsCounter.WithLabelValues(name).Inc()
		}
	}
	sink.StartHeartbeat(s.config.HeartbeatInterval)
	defer sink.StopHeartbeat()

	if err := s.runtime.Turn(ctx, req, sink); err != nil {
		// The sink already carried the error frame; headers are long gone.
		s.logger.Error("turn failed",
			"error", err,
			"user_id", req.UserID,
			"request_id", observability.RequestID(ctx))
	}
}

type healthResponse struct {
	Status      string  `json:"status"`
	ErrorRate   float64 `json:"error_rate"`
	AvgDuration string  `json:"avg_duration"`
	MetricCount int     `json:"metric_count"`
}

// handleHealth reports the perf monitor's verdict over the last 5 minutes.
// Unhealthy maps to 503 so load balancers can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.perf.SystemHealth(5 * time.Minute)

	code := http.StatusOK
	if health.Status == perf.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(healthResponse{
		Status:      string(health.Status),
		ErrorRate:   health.ErrorRate,
		AvgDuration: health.AvgDuration.String(),
		MetricCount: health.MetricCount,
	})
}

func (s *Server) handlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	window, err := reportWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeText(w, s.perf.GenerateReport(window))
}

// handleTraceReport renders one trace when trace_id is given, otherwise a
// summary of recent slow and failed traces.
func (s *Server) handleTraceReport(w http.ResponseWriter, r *http.Request) {
	if traceID := r.URL.Query().Get("trace_id"); traceID != "" {
		report := s.tracer.GenerateTraceReport(traceID)
		if report == "" {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		writeText(w, report)
		return
	}

	var sb []byte
	sb = append(sb, "Recent slow traces (>= 3s):\n"...)
	for _, trace := range s.tracer.GetSlowTraces(3*time.Second, 10) {
		sb = append(sb, fmt.Sprintf("  %s %v (%d spans)\n",
			trace.ID, trace.Duration().Round(time.Millisecond), len(trace.Spans))...)
	}
	sb = append(sb, "Recent failed traces:\n"...)
	for _, trace := range s.tracer.GetFailedTraces(10) {
		sb = append(sb, fmt.Sprintf("  %s %v user=%s\n",
			trace.ID, trace.Duration().Round(time.Millisecond), trace.UserID)...)
	}
	writeText(w, string(sb))
}

func (s *Server) handleTokenReport(w http.ResponseWriter, r *http.Request) {
	writeText(w, s.tokens.GeneratePerformanceReport())
}

func reportWindow(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", raw, err)
	}
	return window, nil
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, body)
}
