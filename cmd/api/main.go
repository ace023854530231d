// Package main is the entry point for the support bridge server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/infastai/support-bridge/internal/assist"
	"github.com/infastai/support-bridge/internal/config"
	"github.com/infastai/support-bridge/internal/handler"
	"github.com/infastai/support-bridge/internal/middleware"
	natsclient "github.com/infastai/support-bridge/internal/nats"
	"github.com/infastai/support-bridge/internal/router"
	"github.com/infastai/support-bridge/internal/session"
	"github.com/infastai/support-bridge/internal/telegram"
	"github.com/infastai/support-bridge/pkg/logger"
	"github.com/infastai/support-bridge/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting support bridge")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-bridge", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// The transcript stream is best-effort: if NATS is down the bridge still
	// relays messages, it just loses the durable trail.
	var nc *natsclient.Client
	var streams *natsclient.StreamManager
	nc, err = natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("NATS unavailable, transcript stream disabled", zap.Error(err))
		nc = nil
	} else {
		defer nc.Close()
		streams = natsclient.NewStreamManager(nc)
		if err := streams.EnsureStream(ctx); err != nil {
			log.Warn("failed to ensure transcript stream", zap.Error(err))
			streams = nil
		}
	}

	var suggester router.ReplySuggester
	if cfg.OpenAIAPIKey != "" {
		assistSvc, err := assist.New(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create assist service, suggested replies disabled", zap.Error(err))
		} else {
			suggester = assistSvc
		}
	}

	store := session.NewStore()
	status := handler.NewStatus(cfg.BotToken != "")

	// The bot credential comes from configuration only. A missing or bad
	// credential keeps the process up with initialized=false so the health
	// endpoint stays observable.
	var botClient *telegram.Client
	if cfg.BotToken != "" {
		botClient, err = telegram.NewClient(cfg.BotToken, cfg.TelegramAPI, log)
		if err != nil {
			log.Error("failed to create bot client", zap.Error(err))
			botClient = nil
		}
	} else {
		log.Error("TELEGRAM_BOT_TOKEN not set, update delivery disabled")
	}

	topics := make([]string, 0, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		if err := middleware.ValidateTopic(topic); err != nil {
			log.Warn("ignoring invalid support topic", zap.String("topic", topic), zap.Error(err))
			continue
		}
		topics = append(topics, topic)
	}

	var supportRouter *router.Router
	var poller *telegram.Poller
	if botClient != nil {
		var transcript router.TranscriptPublisher
		if streams != nil {
			transcript = streams
		}
		supportRouter = router.New(router.Options{
			Store:       store,
			Messenger:   botClient,
			Transcript:  transcript,
			Suggester:   suggester,
			Topics:      topics,
			AdminChatID: cfg.AdminChatID,
			Logger:      log,
		})

		if me, err := botClient.GetMe(ctx); err != nil {
			log.Error("bot credential check failed", zap.Error(err))
		} else {
			log.Info("bot authenticated", zap.String("username", me.Username))
			switch cfg.DeliveryMode {
			case config.DeliveryWebhook:
				if err := botClient.SetWebhook(ctx, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
					log.Error("failed to register webhook", zap.Error(err))
				} else {
					status.SetInitialized(true)
				}
			case config.DeliveryPoll:
				poller = telegram.NewPoller(botClient, supportRouter, cfg.PollTimeout, log)
				if err := poller.Start(ctx); err != nil {
					log.Error("failed to start poller", zap.Error(err))
					poller = nil
				} else {
					status.SetInitialized(true)
				}
			default:
				log.Error("unknown delivery mode", zap.String("mode", cfg.DeliveryMode))
			}
		}
	}

	healthHandler := handler.NewHealthHandler(status, store, nc)

	var closer handler.Closer
	if supportRouter != nil {
		closer = supportRouter
	}
	conversationHandler := handler.NewConversationHandler(store, closer, streams, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if supportRouter != nil && cfg.DeliveryMode == config.DeliveryWebhook {
		webhookHandler := handler.NewWebhookHandler(supportRouter, cfg.WebhookSecret, log)
		r.Post("/telegram/webhook", webhookHandler.Receive)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeSupportAdmin))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Close)
				r.Get("/transcript", conversationHandler.Transcript)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if poller != nil {
		poller.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
