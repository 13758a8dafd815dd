package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/operator/internal/config"
	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/internal/orchestrator"
	"github.com/haasonsaas/operator/internal/perf"
	"github.com/haasonsaas/operator/internal/prompt"
	"github.com/haasonsaas/operator/internal/providers"
	"github.com/haasonsaas/operator/internal/runtime"
	"github.com/haasonsaas/operator/internal/server"
	"github.com/haasonsaas/operator/internal/tokens"
	"github.com/haasonsaas/operator/internal/tracing"
)

// runServe wires the full service from configuration and blocks until ctx
// is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	exporter, otelShutdown := setupOtel(ctx, cfg)
	defer otelShutdown()

	metrics := observability.NewMetrics()

	perfMon := perf.NewMonitor(perf.DefaultConfig(), metrics)
	defer perfMon.Close()
	tracer := tracing.NewTracer(tracing.DefaultConfig(), exporter)
	defer tracer.Close()
	tokenMon := tokens.NewMonitor(tokens.Config{Pricing: cfg.Tokens.Pricing()})
	defer tokenMon.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := orchestrator.NewRegistry()
	rt := runtime.New(
		prompt.NewBuilder(prompt.Config{
			Budget:          cfg.Prompt.Budget,
			MaxHistoryTurns: cfg.Prompt.MaxHistoryTurns,
		}),
		orchestrator.New(registry, orchestrator.ExecConfig{
			Concurrency:    cfg.Tools.Concurrency,
			DefaultTimeout: cfg.Tools.DefaultTimeout,
		}),
		provider, perfMon, tracer, tokenMon, metrics,
		runtime.Config{
			Model:     cfg.Provider.Model,
			MaxTokens: cfg.Provider.MaxTokens,
		},
	)

	srv := server.New(rt, perfMon, tracer, tokenMon, metrics, server.Config{
		Addr:              cfg.Addr(),
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	})
	return srv.Run(ctx)
}

func buildProvider(cfg *config.Config) (runtime.CompletionProvider, error) {
	switch cfg.Provider.Name {
	case "openai":
		return providers.NewOpenAI(cfg.Provider.APIKey), nil
	case "anthropic":
		return providers.NewAnthropic(cfg.Provider.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// setupOtel initializes OTLP trace export when an endpoint is configured.
// Without one the exporter produces no-op spans and shutdown does nothing.
func setupOtel(ctx context.Context, cfg *config.Config) (*observability.Tracer, func()) {
	exporter, shutdown := observability.NewTracer(observability.TraceConfig{
		Endpoint:       cfg.Observability.OTLPEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Observability.SampleRate,
		EnableInsecure: cfg.Observability.Insecure,
	})
	return exporter, func() {
		if err := shutdown(ctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}
}
