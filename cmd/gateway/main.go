package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/core/services"
	httphandlers "ccngate/internal/handlers/http"
	"ccngate/internal/infrastructure/media"
	"ccngate/internal/infrastructure/middleware"
	"ccngate/internal/infrastructure/monitoring"
	signalserver "ccngate/internal/infrastructure/signal"
	"ccngate/internal/infrastructure/syncsocket"
	"ccngate/internal/infrastructure/transport"
	"ccngate/pkg/config"
	"ccngate/pkg/logger"
	"ccngate/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, logErr := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if logErr != nil {
		panic(logErr)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("Failed to load config, using defaults", "path", *configPath, "error", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	transportFactory, err := transport.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create transport", "error", err)
	}

	var metrics ports.GatewayMetrics = ports.NoopMetrics{}
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metrics = collector
	}

	sessionFace, err := transportFactory.NewFace()
	if err != nil {
		log.Fatalw("failed to open transport face", "error", err)
	}

	newSocket := func(local domain.Peer) (ports.SyncSocket, error) {
		face, err := transportFactory.NewFace()
		if err != nil {
			return nil, err
		}
		return syncsocket.New(local, syncsocket.Config{
			Chatroom:  cfg.Gateway.Chatroom,
			Freshness: cfg.Presence.RecordFreshness,
		}, face, transportFactory.Notifier(), log), nil
	}

	endpoints := services.NewLocalEndpoints()
	relay := media.NewRelay(media.Config{
		ListenIP: cfg.Gateway.ListenIP,
		Port:     cfg.Gateway.UDPPort,
	}, endpoints, log)

	session := services.NewSession(services.SessionConfig{
		Nick:           cfg.Gateway.Nick,
		Prefix:         cfg.Gateway.Prefix,
		Chatroom:       cfg.Gateway.Chatroom,
		ListenIP:       cfg.Gateway.ListenIP,
		ListenPort:     cfg.Gateway.UDPPort,
		MediaFreshness: cfg.Gateway.MediaFreshness,
		Presence: services.PresenceConfig{
			TTL:           cfg.Presence.TTL,
			ReapInterval:  cfg.Presence.ReapInterval,
			AnnounceDelay: cfg.Presence.AnnounceDelay,
			LeaveGrace:    cfg.Presence.LeaveGrace,
		},
		Fetch: services.FetchConfig{
			PipeWindow:       cfg.Gateway.PipeWindow,
			TimeoutThreshold: cfg.Gateway.TimeoutThreshold,
			TickInterval:     cfg.Gateway.TickInterval,
		},
	}, sessionFace, newSocket, endpoints, relay, metrics, log)

	if err := relay.Start(session); err != nil {
		log.Fatalw("failed to start media relay", "error", err)
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRelayCheck(relay, time.Second)
	if client := transportFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 2*time.Second)
	}

	var wsOpts []signalserver.Option
	if collector != nil {
		wsOpts = append(wsOpts, signalserver.WithConnectionObserver(collector))
	}
	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		wsOpts = append(wsOpts, signalserver.WithAuth(authService))
	}
	wsServer := signalserver.NewWebSocketServer(session, signalserver.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
		MessagesPerSecond: wsRate(cfg),
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}, log, wsOpts...)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	gatewayHandler := httphandlers.NewGatewayHandler(session)
	if authService != nil {
		httphandlers.NewAuthHandler(authService).SetupRoutes(router)
		gatewayHandler.SetupRoutes(router.Group("", middleware.AuthMiddleware(authService)))
	} else {
		gatewayHandler.SetupRoutes(router)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"transport":   transportFactory.Kind(),
			"session":     session.Status().String(),
			"connections": wsServer.ConnectionCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting ccngate",
			"address", cfg.Server.Address,
			"udp", relay.Addr().String(),
			"prefix", cfg.Gateway.Prefix,
			"chatroom", cfg.Gateway.Chatroom,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down ccngate...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Leave the chatroom before the transport goes away.
	session.Close(shutdownCtx)

	if err := relay.Close(); err != nil {
		log.Errorw("Error closing media relay", "error", err)
	}
	if err := sessionFace.Close(); err != nil {
		log.Errorw("Error closing transport face", "error", err)
	}
	if err := transportFactory.Close(); err != nil {
		log.Errorw("Error closing transport", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("ccngate stopped")
}

func wsRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}
