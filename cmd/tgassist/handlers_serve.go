package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/channels/telegram"
	"github.com/haasonsaas/tgassist/internal/config"
	"github.com/haasonsaas/tgassist/internal/gateway"
	"github.com/haasonsaas/tgassist/internal/mcp"
	"github.com/haasonsaas/tgassist/internal/observability"
	"github.com/haasonsaas/tgassist/internal/rag/store"
	"github.com/haasonsaas/tgassist/internal/sessions"
	"github.com/haasonsaas/tgassist/internal/tools/knowledge"
)

// runServe builds every collaborator once and runs the bot until a shutdown
// signal arrives.
func runServe(ctx context.Context, debug bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
		logger = observability.NewLogger(observability.LogConfig{Level: "debug", Format: cfg.Logging.Format})
		slog.SetDefault(logger)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting tgassist",
		"version", version,
		"commit", commit,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLM.Provider,
		"memory_backend", cfg.Memory.Backend,
		"telegram_mode", cfg.Telegram.Mode)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "tgassist",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	app, err := buildApp(ctx, cfg, metrics, tracer, logger)
	if err != nil {
		return err
	}
	defer app.Close(logger)

	adapter, err := telegram.NewAdapter(telegram.Config{
		Token:      cfg.Telegram.Token,
		Mode:       telegram.Mode(cfg.Telegram.Mode),
		WebhookURL: cfg.Telegram.WebhookURL,
		ListenAddr: cfg.Telegram.ListenAddr,
		RateLimit:  cfg.Telegram.RateLimit,
		RateBurst:  cfg.Telegram.RateBurst,
		Logger:     logger,
		// The turn deadline expires first so its failure is still reported.
		ReplyTimeout: cfg.Agent.TurnTimeout + 30*time.Second,
	}, app.gateway, app.mcp, metrics)
	if err != nil {
		return fmt.Errorf("failed to create telegram adapter: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adapter.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, logger, map[string]http.Handler{
				"/healthz": adapter.HealthHandler(),
			})
		})
	}

	logger.Info("tgassist started", "tools", app.registry.Len())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tgassist stopped gracefully")
	return nil
}

// app is the process-wide context object built once by serve.
type app struct {
	mcp      *mcp.Manager
	registry *agent.ToolRegistry
	store    sessions.Store
	locks    *sessions.SessionLockManager
	vectors  store.VectorStore
	gateway  *gateway.Gateway
}

func buildApp(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) (*app, error) {
	a := &app{registry: agent.NewToolRegistry()}
	ready := false
	defer func() {
		if !ready {
			a.Close(logger)
		}
	}()

	a.mcp = mcp.NewManager(cfg.MCP.Servers, logger)
	a.mcp.UseMetrics(metrics)
	if err := a.mcp.Start(ctx); err != nil {
		return nil, err
	}
	bridges, err := mcp.RegisterTools(a.registry, a.mcp)
	if err != nil {
		logger.Warn("some MCP tools were not registered", "error", err)
	}
	for _, b := range bridges {
		logger.Debug("registered MCP tool", "name", b.Name(), "canonical", b.Canonical())
	}

	if cfg.KnowledgeBase.Enabled {
		embedder, err := newEmbedder(cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings provider: %w", err)
		}
		a.vectors, err = newVectorStore(ctx, cfg.KnowledgeBase, embedder.Dimension(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge base: %w", err)
		}
		searcher := knowledge.NewSearcher(embedder, a.vectors)
		if err := a.registry.Register(knowledge.NewSearchTool(searcher, cfg.KnowledgeBase.TopK)); err != nil {
			return nil, err
		}
	}

	provider, err := newLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	loop := agent.NewAgenticLoop(provider, a.registry, &agent.LoopConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Model:         cfg.LLM.Model,
		Executor: agent.ToolExecConfig{
			Concurrency:    cfg.Agent.ToolConcurrency,
			PerToolTimeout: cfg.Agent.ToolTimeout,
		},
	}, logger)
	loop.UseMetrics(metrics)
	loop.UseTracer(tracer)

	a.store, err = newSessionStore(ctx, cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	a.locks = sessions.NewSessionLockManager(cfg.Memory.LockTimeout)
	a.locks.UseMetrics(metrics)

	loc, err := loadLocation(cfg.Agent.Timezone)
	if err != nil {
		return nil, err
	}
	prompt, err := gateway.NewSystemPrompt(cfg.Agent.SystemPrompt, loc)
	if err != nil {
		return nil, err
	}

	a.gateway, err = gateway.New(gateway.Config{
		Loop:        loop,
		Store:       sessions.NewLockingStore(a.store, a.locks, cfg.Memory.LockTimeout),
		Prompt:      prompt,
		Metrics:     metrics,
		Logger:      logger,
		TurnTimeout: cfg.Agent.TurnTimeout,
	})
	if err != nil {
		return nil, err
	}
	ready = true
	return a, nil
}

// Close releases every resource the app opened.
func (a *app) Close(logger *slog.Logger) {
	if a.mcp != nil {
		stopMCPManager(a.mcp)
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			logger.Warn("failed to close knowledge base", "error", err)
		}
	}
	if a.locks != nil {
		a.locks.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close memory store", "error", err)
		}
	}
}
