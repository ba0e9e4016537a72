package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	grpcserver "chat-relay/internal/grpc"
	"chat-relay/internal/handlers"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/presence"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
	"chat-relay/internal/router"
	"chat-relay/internal/session"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	database, err := db.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, database, log); err != nil {
			return err
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log.Named("rabbitmq"))
	defer publisher.Close()
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	events := telemetry.NewEventEmitter(publisher, cfg.ServiceName, cfg.Environment, log.Named("events"))

	var directory presence.Directory = presence.NopDirectory{}
	if cfg.Redis.Address != "" {
		client, err := presence.Dial(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		instanceID := uuid.NewString()
		directory = presence.NewRedisDirectory(client, cfg.Redis.PresenceKey, instanceID)
		log.Info("presence directory enabled", zap.String("redis", cfg.Redis.Address), zap.String("instance_id", instanceID))
	}

	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	reg := registry.New()
	gate := auth.NewGate(secret, userRepo, cfg.Auth.AdmitTimeout, log.Named("auth"))
	tracker := presence.NewTracker(reg, directory, events, log.Named("presence"))
	sessions := session.NewManager(gate, reg, userRepo, tracker, events, log.Named("session"))
	rt := router.New(messageRepo, userRepo, reg, events, log.Named("router"))
	wsHandler := ws.NewHandler(sessions, rt, wsOptions(cfg.WS), log.Named("ws"))

	engine := newEngine(cfg, gate, rt, reg, tracker, wsHandler, events)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("address", cfg.HTTPAddress))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var health *grpcserver.HealthServer
	if cfg.GRPCAddress != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddress, err)
		}
		health = grpcserver.NewHealthServer(cfg.ServiceName, log.Named("grpc"))
		go func() {
			if err := health.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		health.SetServing(true)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if health != nil {
		health.SetServing(false)
		health.Stop(shutdownCtx)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	// Hijacked websocket connections are not tracked by http.Server; their
	// tasks must detach before the deferred store and broker closes run.
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		log.Warn("websocket drain incomplete", zap.Error(err), zap.Int("open_connections", reg.Len()))
	}
	log.Info("shutdown complete")
	return runErr
}

func newEngine(cfg config.Config, gate *auth.Gate, rt *router.Router, reg *registry.Registry, tracker *presence.Tracker, wsHandler *ws.Handler, events *telemetry.EventEmitter) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(middleware.RequestID())
	engine.Use(observability.HTTPMetricsMiddleware())

	chatHandler := handlers.NewChatHandler(rt)
	presenceHandler := handlers.NewPresenceHandler(rt, tracker)
	authMiddleware := middleware.AuthMiddleware(gate)

	api := engine.Group("/api", authMiddleware)
	api.POST("/chat/messages", chatHandler.SendMessage)
	api.GET("/chat/conversations", chatHandler.ListConversations)
	api.GET("/chat/messages/:userId", chatHandler.GetMessages)
	api.DELETE("/chat/messages/:messageId", chatHandler.DeleteMessage)
	api.PUT("/chat/messages/:messageId/read", chatHandler.MarkRead)
	api.GET("/users/:userId/presence", presenceHandler.GetPresence)
	api.GET("/presence/online", presenceHandler.ListOnline)

	engine.GET("/ws", wsHandler.Handle)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(engine, events, reg, cfg.Environment == "development")
	return engine
}

func wsOptions(c config.WSConfig) ws.Options {
	return ws.Options{
		SendBuffer:       c.SendBuffer,
		PingInterval:     c.PingInterval,
		PongWait:         c.PongWait,
		WriteWait:        c.WriteWait,
		MaxMessageBytes:  c.MaxMessageBytes,
		ActionsPerSecond: c.ActionsPerSecond,
		ActionBurst:      c.ActionBurst,
		AllowedOrigins:   c.AllowedOrigins,
	}
}
