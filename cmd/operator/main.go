// Package main provides the CLI entry point for the operator service.
//
// The operator runs AI agent turns over HTTP: it assembles prompts, executes
// capability-matched tools concurrently, relays the completion provider's
// stream as server-sent events, and keeps in-memory performance, trace, and
// token-usage stores with plain-text report endpoints.
//
// Start the server:
//
//	operator serve --config operator.yaml
//
// Environment variables referenced as ${VAR} in the config file are expanded
// at load time, so API keys can stay out of the file:
//
//	provider:
//	  name: openai
//	  api_key: ${OPENAI_API_KEY}
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/operator/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "operator",
		Short:         "AI agent turn runtime with SSE streaming and in-memory observability",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("operator %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
