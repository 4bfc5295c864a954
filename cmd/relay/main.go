package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/planifyhq/relay/internal/completion"
	"github.com/planifyhq/relay/internal/config"
	"github.com/planifyhq/relay/internal/conversation"
	"github.com/planifyhq/relay/internal/httpapi"
	"github.com/planifyhq/relay/internal/logging"
	"github.com/planifyhq/relay/internal/moderation"
	"github.com/planifyhq/relay/internal/notify"
	"github.com/planifyhq/relay/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("relay", false)
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New("relay", cfg.Debug)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, conversation state is in-memory only")
	}

	filter := moderation.NewFilter(cfg.Denylist)
	manager := conversation.NewManager(store, filter, conversation.ManagerConfig{
		SystemPrompt:   cfg.SystemPrompt,
		WindowSize:     cfg.ContextWindow,
		BlockThreshold: cfg.BlockThreshold,
	}, log)

	completer, err := completion.NewAdapter(completion.Config{
		Mode:      cfg.CompletionMode,
		APIKey:    cfg.CompletionAPIKey,
		BaseURL:   cfg.CompletionBaseURL,
		Model:     cfg.CompletionModel,
		MaxTokens: cfg.CompletionMaxTokens,
		Timeout:   cfg.CompletionTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("completion adapter init failed")
	}

	notifier, err := notify.NewChannel(notify.Config{
		Mode:       cfg.NotifyMode,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.ServiceNumber,
		BaseURL:    cfg.TwilioBaseURL,
		Timeout:    cfg.NotifyTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("notification channel init failed")
	}

	api := httpapi.New(cfg, manager, completer, notifier, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
