package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	intDatabase "consultcall-backend/internal/database"
	callHandler "consultcall-backend/internal/handler/http/call"
	doctorHandler "consultcall-backend/internal/handler/http/doctor"
	iceHandler "consultcall-backend/internal/handler/http/ice"
	wsHandler "consultcall-backend/internal/handler/ws"
	"consultcall-backend/internal/middleware"
	"consultcall-backend/internal/repository/cockroach"
	"consultcall-backend/internal/repository/memory"
	redisRepo "consultcall-backend/internal/repository/redis"
	"consultcall-backend/internal/repository/resilient"
	"consultcall-backend/internal/service/availability"
	callService "consultcall-backend/internal/service/call"
	"consultcall-backend/internal/signaling"
	"consultcall-backend/pkg/audit"
	"consultcall-backend/pkg/config"
	"consultcall-backend/pkg/constants"
	pkgDatabase "consultcall-backend/pkg/database"
	"consultcall-backend/pkg/iceconfig"
	"consultcall-backend/pkg/jwt"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/resilience"
)

// devJWTSecret signs tokens outside production when JWT_SECRET is unset
const devJWTSecret = "development-only-secret-change-me-0123456789"

func main() {
	if err := run(); err != nil {
		logger.Error("call-service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. JWT
	secret := cfg.JWT.Secret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
		secret = devJWTSecret
	}
	jwtManager := jwt.NewJWTManager(secret, cfg.JWT.AccessTokenExpiry)

	// 3. CockroachDB, with an in-memory fallback outside production
	var (
		callRepo       callService.CallRepository
		participantLog signaling.ParticipantLog
		dbPool         *middleware.DBPoolLimiter
	)

	db, err := pkgDatabase.ConnectWithRetry(ctx, cfg.Database)
	switch {
	case err == nil:
		defer db.Close()
		callRepo = resilient.NewCallRepository(cockroach.NewCallRepository(db.Pool), resilience.Config{
			FailureThreshold: constants.StorageBreakerFailureThreshold,
			OpenTimeout:      constants.StorageBreakerOpenTimeout,
			HalfOpenProbes:   constants.StorageBreakerHalfOpenProbes,
		}, appMetrics)
		participantLog = cockroach.NewParticipantRepository(db.Pool)
		dbPool = middleware.NewDBPoolLimiter(db, constants.DBPoolShedThreshold, appMetrics)
		logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))
	case cfg.IsProduction():
		return fmt.Errorf("connect to CockroachDB: %w", err)
	default:
		logger.Warn("CockroachDB unavailable, running with the in-memory call store", zap.Error(err))
		callRepo = memory.NewCallRepository()
		participantLog = memory.NewParticipantLog()
	}

	// 4. Redis with degraded mode support
	redisDB := intDatabase.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, starting degraded", zap.Error(err))
	}

	// 5. Services
	auditLogger := audit.NewAuditLogger(redisDB)
	callSvc := callService.NewService(callRepo,
		callService.WithAudit(auditLogger),
		callService.WithMetrics(appMetrics),
	)
	availabilitySvc := availability.NewService(
		redisRepo.NewPresenceRepository(redisDB, constants.AvailabilityTTL),
		auditLogger,
	)

	iceServers, err := iceconfig.Build(cfg.ICE)
	if err != nil {
		return fmt.Errorf("build ice servers: %w", err)
	}

	// 6. Signaling: the hub is the relay's transport and the relay is the
	// hub's event handler
	hub := wsHandler.NewSignalingHub(cfg.Signaling, cfg.CORS.AllowedOrigins, appMetrics)
	relay := signaling.NewRelay(signaling.NewRegistry(), hub,
		signaling.WithParticipantLog(participantLog),
		signaling.WithMetrics(appMetrics),
	)
	hub.SetHandler(relay)

	// 7. Router
	router := newRouter(routerDeps{
		ServiceName:    cfg.Server.ServiceName,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		JWT:            jwtManager,
		Revocation:     middleware.NewRedisRevocationChecker(redisDB),
		Metrics:        appMetrics,
		RateLimiter:    middleware.NewRateLimiter(redisDB, cfg.RateLimit.Requests, cfg.RateLimit.Window, appMetrics),
		DBPool:         dbPool,
		Calls:          callHandler.NewHandler(callSvc),
		Doctors:        doctorHandler.NewHandler(availabilitySvc),
		ICE:            iceHandler.NewHandler(iceServers),
		Signaling:      hub,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Run until a signal arrives or the listener fails
	g, gctx := errgroup.WithContext(ctx)

	redisDB.StartHealthCheck(gctx, 10*time.Second)

	g.Go(func() error {
		logger.Info("Call service starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Environment),
			zap.String("signaling", "/v1/signaling/ws"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down call service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
		defer cancel()

		// Hijacked sockets are not tracked by Shutdown
		hub.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
