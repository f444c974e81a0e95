package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentwire/internal/agent"
	"github.com/nextlevelbuilder/agentwire/internal/config"
	"github.com/nextlevelbuilder/agentwire/internal/gateway"
	"github.com/nextlevelbuilder/agentwire/internal/providers"
	"github.com/nextlevelbuilder/agentwire/internal/runtime"
	"github.com/nextlevelbuilder/agentwire/internal/tools"
	"github.com/nextlevelbuilder/agentwire/internal/tracing"
	"github.com/nextlevelbuilder/agentwire/internal/workflow"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(shutdownCtx)
	}()

	remotes := tools.NewProviderRegistry()
	for _, tp := range cfg.ToolProviders {
		provider := tools.NewMCPProvider(tp.Name, tp.Endpoint, tp.Headers, time.Duration(tp.TimeoutSec)*time.Second)
		if err := remotes.Register(provider); err != nil {
			return err
		}
		defer provider.Close()
	}
	remotes.Seal()

	agents := runtime.NewRegistry()
	for _, ac := range cfg.Agents {
		loop := agent.NewLoop(
			ac.Name,
			providers.NewOpenAIProvider(ac.Name, ac.APIKey, ac.BaseURL, ac.Model),
			remotes,
			agent.Config{ToolCallTimeout: cfg.ToolCallTimeout(), MaxTurns: cfg.MaxTurns},
		)
		if err := agents.Register(loop); err != nil {
			return err
		}
	}
	if len(cfg.Agents) == 0 {
		slog.Warn("no agents configured; conversational runs will be rejected")
	}

	runners := workflow.NewRegistry()
	for _, wc := range cfg.Workflows {
		runner := workflow.NewDifyRunner(wc.Name, workflow.DifyConfig{
			BaseURL: wc.BaseURL,
			APIKey:  wc.APIKey,
			User:    wc.User,
			Timeout: time.Duration(wc.TimeoutSec) * time.Second,
		})
		if err := runners.Register(runner); err != nil {
			return err
		}
	}

	limiter := gateway.NewRateLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst)

	server := gateway.NewServer(cfg.Listen)
	err = server.Use(
		gateway.NewCoreHandlers(agents, cfg.DefaultAgent, cfg.SystemPrompt, limiter),
		workflow.NewPlugin(runners),
	)
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			watcher.OnChange(func(next *config.Config) {
				limiter.SetRate(next.RateLimit.RPM, next.RateLimit.Burst)
			})
			if err := watcher.Start(); err != nil {
				slog.Warn("config watcher failed to start", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	return server.ListenAndServe(ctx)
}
