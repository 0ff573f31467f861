package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"presence-service/internal/config"
	"presence-service/internal/db"
	"presence-service/internal/delivery"
	"presence-service/internal/handlers"
	"presence-service/internal/identity"
	"presence-service/internal/middleware"
	"presence-service/internal/observability"
	"presence-service/internal/presence"
	"presence-service/internal/rabbitmq"
	"presence-service/internal/repositories"
	"presence-service/internal/secretbox"
	"presence-service/internal/telemetry"
	"presence-service/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	setLogLevel(cfg.LogLevel)
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), "presence-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("database connected")

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetEventSink(publisher)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.presence", "presence-service", cfg.Environment)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("event publisher ready")

	verifier := identity.NewJWTVerifier(cfg.JWTSecret)
	directory := repositories.NewUserDirectoryRepo(database)
	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	codec := secretbox.New(cfg.EncryptionSecret, cfg.LegacyEncryptionKey)

	registry := presence.NewRegistry(observability.SetOnlineUsers)
	hub := ws.NewHub()
	pipeline := delivery.NewPipeline(conversationRepo, messageRepo, directory, hub, codec)

	wsHandler := ws.NewHandler(hub, registry, verifier, directory, pipeline)
	messageHandler := handlers.NewMessageHandler(pipeline, conversationRepo, messageRepo, registry, emitter, codec)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("presence-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", wsHandler.Handle)

	auth := middleware.Auth(verifier, directory)
	router.POST("/messages", auth, messageHandler.Send)
	router.GET("/conversations/:conversation_id/messages", auth, messageHandler.ListMessages)
	router.POST("/conversations/:conversation_id/read", auth, messageHandler.MarkRead)
	router.DELETE("/messages/:message_id", auth, messageHandler.DeleteMessage)
	router.GET("/presence/online", auth, messageHandler.ListOnline)

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("environment", cfg.Environment).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
