package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rehearsal/internal/audio/agc"
	"rehearsal/internal/audio/mixer"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/services"
	httphandlers "rehearsal/internal/handlers/http"
	"rehearsal/internal/infrastructure/backingtrack"
	sessionbackup "rehearsal/internal/infrastructure/backup"
	"rehearsal/internal/infrastructure/codec/l16"
	"rehearsal/internal/infrastructure/control"
	"rehearsal/internal/infrastructure/distributed"
	"rehearsal/internal/infrastructure/middleware"
	"rehearsal/internal/infrastructure/monitoring"
	"rehearsal/internal/infrastructure/reliability"
	"rehearsal/internal/infrastructure/repositories"
	dashboard "rehearsal/internal/infrastructure/signal"
	"rehearsal/internal/infrastructure/udp"
	"rehearsal/pkg/backup"
	"rehearsal/pkg/circuitbreaker"
	"rehearsal/pkg/config"
	"rehearsal/pkg/logger"
	"rehearsal/pkg/retry"
	"rehearsal/pkg/tracing"

	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const publishTimeout = 2 * time.Second

// version is stamped into backups; overridden at build time with -ldflags.
var version = "dev"

func startServer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		log.Errorw("rehearsal server failed", "error", err)
		return err
	}
	log.Info("rehearsal server stopped")
	return nil
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	startTime := time.Now()
	log := zapLogger.Sugar()
	instanceID := uuid.NewString()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "rehearsald",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(reg)

	// Storage
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()
	participantRepo := reliability.NewParticipantRepository(
		repoFactory.CreateParticipantRepository(ctx),
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log.Named("repository"),
	)
	trackRepo := repoFactory.CreateTrackRepository()

	var bus *distributed.EventBus
	if repoFactory.UsingRedis() {
		bus = distributed.NewEventBus(repoFactory.RedisClient(), instanceID, log.Named("events"))
		defer bus.Close()
	}
	// Fan-out to other instances never runs on the engine or listener
	// goroutines.
	publisher := workerpool.New(2)
	defer publisher.StopWait()
	publish := func(fn func(ctx context.Context) error) {
		if bus == nil {
			return
		}
		publisher.Submit(func() {
			pctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := fn(pctx); err != nil {
				log.Debugw("failed to publish event", "error", err)
			}
		})
	}

	// Session manifest backups. Redis already outlives restarts, so only
	// the in-memory store is restored.
	var backupScheduler *sessionbackup.Scheduler
	if cfg.Backup.Enabled {
		dir := cfg.Backup.Dir
		if dir == "" {
			dir = filepath.Join(cfg.Session.Dir, "backups")
		}
		storage, err := backup.NewFileStorage(dir)
		if err != nil {
			return err
		}
		backups := backup.NewBackupService(storage, version)
		backupScheduler = sessionbackup.NewScheduler(backups, trackRepo, sessionbackup.Config{
			Interval: cfg.Backup.Interval,
			Keep:     cfg.Backup.Keep,
		}, log.Named("backup"))

		if !repoFactory.UsingRedis() {
			restored, err := sessionbackup.NewRestoreService(backups, trackRepo, log.Named("backup")).RestoreLatest(ctx)
			if err != nil {
				return fmt.Errorf("failed to restore session manifest: %w", err)
			}
			backupScheduler.MarkRestored(restored)
		}
	}

	// Audio plane
	udpServer := udp.NewServer(udp.Config{
		Address:          cfg.Audio.UDPAddress,
		MaxDatagramBytes: cfg.Audio.MaxDatagramBytes,
		ReadBufferBytes:  cfg.Audio.SocketBufferBytes,
		WriteBufferBytes: cfg.Audio.SocketBufferBytes,
	}, log.Named("udp"))
	if err := udpServer.Listen(); err != nil {
		return err
	}
	defer udpServer.Close()
	collector.RegisterUDPStats(udpServer.Stats)

	var dash *dashboard.DashboardServer

	scheduler := mixer.New(mixer.Config{
		SampleRate:         cfg.Audio.SampleRate,
		FrameDuration:      cfg.Audio.FrameDuration,
		BufferLength:       cfg.Audio.BufferLength,
		SimultaneousVoices: cfg.Audio.SimultaneousVoices,
		AGC: agc.Config{
			Target:  cfg.Audio.AGC.Target,
			Mu:      cfg.Audio.AGC.Mu,
			MaxGain: cfg.Audio.AGC.MaxGain,
		},
		IdleTimeout:        cfg.Audio.IdleTimeout,
		MaxConnections:     cfg.Audio.MaxConnections,
		IsolateCodecErrors: cfg.Audio.IsolateCodecErrors,
		SlowTickThreshold:  cfg.Audio.SlowTickThreshold,
	}, l16.New(cfg.Audio.SampleRate), udpServer, log.Named("mixer"),
		mixer.WithMetrics(collector),
		mixer.WithEvictionHandler(func(stats mixer.ConnectionStats, reason string) {
			if dash != nil {
				dash.ConnectionEvicted(stats.Addr, stats.ClientID, reason)
			}
			publish(func(ctx context.Context) error {
				return bus.Publish(ctx, &distributed.Event{
					Type:     distributed.EventConnectionEvicted,
					ClientID: stats.ClientID,
				})
			})
		}),
	)

	// Services
	opener := backingtrack.NewOpener(log.Named("backing"))
	participantSvc := services.NewParticipantService(participantRepo, scheduler, log.Named("participants"))
	defer participantSvc.Close()
	trackSvc := services.NewTrackService(trackRepo, opener, participantSvc, cfg.Session.Dir, cfg.Server.PublicURL, log.Named("tracks"))
	if err := trackSvc.EnsureDirs(); err != nil {
		return err
	}
	playbackSvc, err := services.NewPlaybackService(trackRepo, opener, scheduler, participantSvc, log.Named("playback"))
	if err != nil {
		return err
	}
	playbackSvc.OnOperation(collector.RecordPlayback)
	metricsSvc := services.NewMetricsService(scheduler, participantSvc, playbackSvc, log.Named("stats"))
	authSvc := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.ConductorPassword)
	if cfg.Auth.ConductorPassword == "" {
		log.Warn("conductor password not set; conductor login is disabled")
	}

	dashCfg := dashboard.DefaultConfig()
	dashCfg.PingInterval = cfg.Signal.PingInterval
	dashCfg.PongTimeout = cfg.Signal.PongTimeout
	dashCfg.DebounceInterval = cfg.Signal.DebounceInterval
	dashCfg.AllowedOrigins = cfg.Auth.AllowedOrigins
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		dashCfg.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	dash = dashboard.NewDashboardServer(dashCfg, participantSvc, log.Named("dashboard"))
	defer dash.Close()

	participantSvc.AddListener(func(ev domain.ParticipantEvent) {
		dash.ParticipantsChanged(ev)
		collector.SetParticipants(participantSvc.Count())
		if ev.Type == domain.ParticipantJoined {
			if err := trackSvc.OfferDownloads(context.Background(), ev.Participant.ClientID); err != nil {
				log.Warnw("failed to offer downloads",
					"client_id", ev.Participant.ClientID,
					"error", err,
				)
			}
		}
		publish(func(ctx context.Context) error {
			return bus.PublishParticipant(ctx, ev)
		})
	})
	playbackSvc.AddListener(func(state domain.PlaybackState) {
		dash.PlaybackChanged(state)
		publish(func(ctx context.Context) error {
			return bus.PublishPlayback(ctx, state)
		})
	})

	// Control plane
	controlServer := control.NewServer(control.Config{
		Address:       cfg.Control.Address,
		MaxFrameBytes: cfg.Control.MaxFrameBytes,
		ReadTimeout:   cfg.Control.ReadTimeout,
		WriteTimeout:  cfg.Control.WriteTimeout,
	}, participantSvc, log.Named("control"))
	controlServer.OnCommand(collector.RecordControlCommand)
	if err := controlServer.Listen(); err != nil {
		return err
	}

	// Health
	health := monitoring.NewHealthChecker(log.Named("health"))
	health.AddEngineCheck(scheduler.Running, 5*time.Second)
	health.AddRepositoryCheck(participantRepo, 15*time.Second, 2*time.Second)
	if repoFactory.UsingRedis() {
		health.AddRedisCheck(repoFactory.RedisClient(), 15*time.Second, 2*time.Second)
	}

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(logger.NewContextLogger(zapLogger), collector),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"instance":  instanceID,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.LastStatus()
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
		log.Info("prometheus metrics enabled")
	}
	router.GET("/ws/dashboard",
		middleware.NewWebSocketRateLimitMiddleware(cfg),
		func(c *gin.Context) { dash.HandleWebSocket(c.Writer, c.Request) },
	)

	api := router.Group("/api/v1")
	httphandlers.NewAuthHandler(authSvc).SetupRoutes(api)
	rehearsalHandler := httphandlers.NewRehearsalHandler(participantSvc, trackSvc, playbackSvc, metricsSvc, scheduler)
	rehearsalHandler.SetNetworkStats(func() interface{} { return udpServer.Stats() })
	rehearsalHandler.SetupRoutes(api, authSvc)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return udpServer.Serve(gctx, scheduler)
	})
	g.Go(func() error {
		return controlServer.Serve(gctx)
	})
	g.Go(func() error {
		log.Infow("starting http server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		metricsSvc.Run(gctx, cfg.Monitoring.MetricsInterval, func(stats domain.RoomStats) {
			collector.SetParticipants(stats.Participants)
		})
		return nil
	})
	if backupScheduler != nil {
		g.Go(func() error {
			backupScheduler.Run(gctx)
			return nil
		})
	}
	if bus != nil {
		g.Go(func() error {
			err := bus.Subscribe(gctx, func(ev *distributed.Event) error {
				log.Infow("remote event",
					"type", ev.Type,
					"instance", ev.InstanceID,
					"client_id", ev.ClientID,
				)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down rehearsal server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		scheduler.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during http shutdown", "error", err)
			srv.Close()
		}
		controlServer.Close()
		udpServer.Close()
		return nil
	})

	log.Infow("rehearsal server started",
		"instance", instanceID,
		"http", cfg.Server.Address,
		"control", cfg.Control.Address,
		"audio", cfg.Audio.UDPAddress,
		"redis", repoFactory.UsingRedis(),
		"pid", os.Getpid(),
	)
	return g.Wait()
}
