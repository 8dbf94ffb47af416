// Command dialogrouter runs the Dialog Orchestrator as a long-lived
// service: the bot HTTP API, the Telegram human gateway, and the matching
// and conversation engine that pairs them.
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

	"github.com/convai/dialog-router/internal/botgw"
	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/config"
	"github.com/convai/dialog-router/internal/humangw"
	"github.com/convai/dialog-router/internal/mailbox"
	"github.com/convai/dialog-router/internal/messenger/telegram"
	"github.com/convai/dialog-router/internal/orchestrator"
	"github.com/convai/dialog-router/internal/scheduler"
	"github.com/convai/dialog-router/internal/store"
	"github.com/convai/dialog-router/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := telemetry.InitOtel(ctx, telemetry.OtelConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	peerStore, err := store.Open(cfg.Persistence.SQLitePath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer peerStore.Close()
	logger.Info("startup phase", "phase", "store_opened", "path", cfg.Persistence.SQLitePath)

	eventBus := bus.NewWithLogger(logger)
	go telemetry.RunMetricsSubscriber(ctx, eventBus, metrics)

	sched := scheduler.New(logger)
	defer sched.StopAll()

	mb := mailbox.New()
	botGateway := botgw.NewGateway(mb)

	humanGateway := humangw.New(humangw.Deps{
		Store:  peerStore,
		Logger: logger,
		Config: humangw.Config{
			AllowSetBot:            true,
			RevealDialogID:         false,
			GuessProfileBySentence: cfg.Orchestrator.GuessProfileBySentence,
		},
	})

	orchCfg := orchestrator.Config{
		HumanBotRatio:          cfg.Orchestrator.HumanBotRatio,
		MaxTimeInLobby:         time.Duration(cfg.Orchestrator.MaxTimeInLobbySeconds) * time.Second,
		InactivityTimeout:      time.Duration(cfg.Orchestrator.InactivityTimeoutSeconds) * time.Second,
		MaxLength:              cfg.Orchestrator.MaxLength,
		EvalMin:                cfg.Orchestrator.EvalMin,
		EvalMax:                cfg.Orchestrator.EvalMax,
		GuessProfile:           cfg.Orchestrator.GuessProfile,
		GuessProfileBySentence: cfg.Orchestrator.GuessProfileBySentence,
		AssignProfile:          cfg.Orchestrator.AssignProfile,
		ScoreDialog:            cfg.Orchestrator.ScoreDialog,
		ShowTopics:             cfg.Orchestrator.ShowTopics,
		BadMessageThreshold:    cfg.Orchestrator.BadMessageThreshold,
		TrigramWindow:          cfg.Orchestrator.TrigramWindow,
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:        peerStore,
		Scheduler:    sched,
		Bus:          eventBus,
		Logger:       logger,
		HumanGateway: humanGateway,
		BotGateway:   botGateway,
		Config:       orchCfg,
	})
	humanGateway.SetOrchestrator(orch)
	logger.Info("startup phase", "phase", "orchestrator_ready")

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			logger.Warn("telegram messenger enabled but token is missing")
		} else {
			tg := telegram.New(cfg.Telegram.Token, humanGateway, logger)
			humanGateway.SetMessenger(tg)
			go func() {
				if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("telegram messenger exited", "error", err)
				}
			}()
		}
	}

	rateLimit := botgw.NewRateLimiter(config.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	botServer := botgw.NewServer(botgw.Deps{
		Store:        peerStore,
		Mailbox:      mb,
		Orchestrator: orch,
		Logger:       logger,
		LongPollMax:  time.Duration(cfg.HTTP.LongPollMaxSeconds) * time.Second,
		RateLimit:    rateLimit,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.BindAddr,
		Handler:      botServer.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bot gateway listening", "addr", cfg.HTTP.BindAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			logger.Info("config file changed, reload not yet applied to the live orchestrator", "path", ev.Path)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("bot gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure reason_code=%s error=%s\n", reasonCode, message)
	}
	os.Exit(1)
}
