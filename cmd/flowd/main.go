package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/ai"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/channel"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/conditions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/engine"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/scheduler"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/steps"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable session store.
	store, err := session.NewLibSQLStore(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	// Conversation history: Redis when configured, in-process otherwise.
	var history ai.HistoryStore
	if cfg.RedisURL != "" {
		redisHistory, err := ai.NewRedisHistoryStore(ctx, cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("connect history store: %w", err)
		}
		defer redisHistory.Close()
		history = redisHistory
	} else {
		logger.Warn("no redis_url configured, conversation history is in-process only")
		history = ai.NewMemoryHistoryStore()
	}

	// Expression engines.
	exprEngine := expressions.NewExprEngine()
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init cel engine: %w", err)
	}
	jqEngine := expressions.NewGoJQEngine()
	resolver := expressions.NewResolver(exprEngine)
	matcher := conditions.NewMatcher(celEngine, logger)

	// Collaborators.
	channels := channel.NewSessionRegistry()
	providers := ai.NewRegistry(ai.NewOpenAIProvider(), ai.NewOllamaProvider())
	httpConnector := connectors.NewHTTPConnector()
	sqlConnector := connectors.NewSQLConnector()
	emailSender := newEmailSender(cfg)
	sheetsClient, err := newSheetsClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	agents := newStaticAgentDirectory(cfg.Agents)

	// Step handlers.
	registry := steps.NewRegistry()
	for _, h := range []steps.Handler{
		steps.NewMessageHandler(channels, history, logger),
		steps.NewBranchHandler(matcher, logger),
		steps.NewCaptureHandler(logger),
		steps.NewSuppressHandler(logger),
		steps.NewRequestHandler(httpConnector, jqEngine, logger),
		steps.NewDelayHandler(logger),
		steps.NewSheetsHandler(sheetsClient, logger),
		steps.NewEmailHandler(emailSender, logger),
		steps.NewAssignAgentHandler(agents, logger),
		steps.NewAssistantHandler(providers, history, channels, logger),
		steps.NewSQLQueryHandler(sqlConnector, jqEngine, logger),
	} {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("register step handler: %w", err)
		}
	}

	// Engine and dispatcher.
	promRegistry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promRegistry)
	eng := engine.New(store, registry, resolver, metrics, logger, engine.Config{
		MaxSteps: cfg.MaxSteps,
		Pacing:   time.Duration(cfg.PacingMS) * time.Millisecond,
	})

	validator, err := validation.NewFlowValidator()
	if err != nil {
		return fmt.Errorf("init flow validator: %w", err)
	}
	flows := newFileFlowSource(cfg.FlowsDir, validator, logger)
	if err := flows.Load(); err != nil {
		return fmt.Errorf("load flows: %w", err)
	}
	reloadOnHangup(ctx, flows, logger)

	dispatcher := engine.NewDispatcher(eng, flows, engine.NewTurnPool(cfg.PoolSize), logger)
	defer dispatcher.Shutdown()

	// Session maintenance.
	maint, err := scheduler.New(store, scheduler.Config{}, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	if err := maint.Start(ctx); err != nil {
		return err
	}
	defer maint.Stop()

	// HTTP surface: events in, metrics and health out.
	server := newServer(cfg.ListenAddr, dispatcher, promRegistry, logger)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("flowd listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newEmailSender(cfg Config) connectors.EmailSender {
	if cfg.SendGridAPIKey != "" {
		return connectors.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom)
	}
	return connectors.NewSMTPSender(connectors.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
}

func newSheetsClient(ctx context.Context, cfg Config, logger *slog.Logger) (connectors.SheetsClient, error) {
	if cfg.SheetsCredentialsFile == "" {
		logger.Warn("no sheets credentials configured, googleSheets steps will fail")
		return nil, nil
	}
	creds, err := os.ReadFile(cfg.SheetsCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}
	client, err := connectors.NewGoogleSheetsClient(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("init sheets client: %w", err)
	}
	return client, nil
}

// reloadOnHangup re-reads the flows directory when the process receives
// SIGHUP, so flow edits deploy without a restart.
func reloadOnHangup(ctx context.Context, flows *fileFlowSource, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hup)
				return
			case <-hup:
				logger.Info("reloading flows")
				if err := flows.Load(); err != nil {
					logger.Error("flow reload failed", "error", err.Error())
				}
			}
		}
	}()
}
