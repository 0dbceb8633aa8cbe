package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/infra/config"
	"github.com/CharbellTrad/biometric-service/internal/infra/database"
	kafkainfra "github.com/CharbellTrad/biometric-service/internal/infra/kafka"
	"github.com/CharbellTrad/biometric-service/internal/infra/logger"
	redisinfra "github.com/CharbellTrad/biometric-service/internal/infra/redis"
	"github.com/CharbellTrad/biometric-service/internal/infra/security"
	"github.com/CharbellTrad/biometric-service/internal/infra/telemetry"
	postgresrepo "github.com/CharbellTrad/biometric-service/internal/repository/postgres"
	redisrepo "github.com/CharbellTrad/biometric-service/internal/repository/redis"
	transportgrpc "github.com/CharbellTrad/biometric-service/internal/transport/grpc"
	grpcinterceptors "github.com/CharbellTrad/biometric-service/internal/transport/grpc/interceptors"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/middleware"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/routes"
	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	store      *postgresrepo.Store
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	consumer   *kafkainfra.ConsumerGroup
	tracer     *telemetry.TracerProvider
	grpcServer *grpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	displayLocation, err := usecase.ParseDisplayOffset(cfg.App.DisplayTZOffset)
	if err != nil {
		return nil, fmt.Errorf("parse display offset: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, Version, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics(telemetry.AuthMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init grpc metrics: %w", err)
	}

	keyProvider, err := security.NewDirectoryKeyProvider(cfg.Auth.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	identity := security.NewTokenVerifier(keyProvider, cfg.Auth.Issuer, cfg.Auth.Audience)
	log.Info("caller token verification keys loaded", zap.Strings("kids", keyProvider.KeyIDs()))

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	store := postgresrepo.NewStore(pool)

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var (
		eventPublisher port.EventPublisher
		producer       *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	deviceService := usecase.NewDeviceService(repos.Devices, repos.AuthLogs, repos.Audit, eventPublisher, log).
		WithUsagePolicy(domain.UsagePolicy{
			RecentWindow: cfg.Registry.RecentWindow,
			StaleAfter:   cfg.Registry.StaleAfter,
		})

	sessionTermination := redisrepo.NewSessionTerminationStore(redisClient.Client(), cfg.Redis.SessionEndPrefix)
	authLogService := usecase.NewAuthLogService(repos.AuthLogs, repos.Devices, deviceService, eventPublisher, log).
		WithDisplayLocation(displayLocation).
		WithHistoryLimits(cfg.Registry.HistoryDefaultLimit, cfg.Registry.HistoryMaxLimit).
		WithMetrics(authMetrics).
		WithSessionTerminationStore(sessionTermination, cfg.Redis.SessionEndTTL).
		WithDegradationPolicy(domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Redis.SessionEndPolicy)))

	var consumer *kafkainfra.ConsumerGroup
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.UserEventsTopic != "" {
		handler := kafkainfra.NewUserDeletedConsumer(deviceService, log)
		consumer, err = kafkainfra.NewConsumerGroup(cfg.Kafka, []string{cfg.Kafka.UserEventsTopic}, handler, log)
		if err != nil {
			log.Warn("failed to join user events consumer group, owner cleanup disabled", zap.Error(err))
			consumer = nil
		}
	}

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       cfg.RateLimit.WindowDuration * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	grpcSrv, err := transportgrpc.NewServer(transportgrpc.ServerDependencies{
		AuthLog:        authLogService,
		Devices:        deviceService,
		Identity:       identity,
		Metrics:        grpcMetrics,
		TracerProvider: tracer.Provider(),
		Logger:         log,
	})
	if err != nil {
		_ = redisClient.Close()
		store.Close()
		return nil, fmt.Errorf("init grpc server: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Identity:    identity,
		Devices:     deviceService,
		Stats:       authLogService,
		AuthLogs:    authLogService,
		Metrics:     httpMetrics,
		Database:    store,
		Cache:       redisClient,
	})

	return &Application{
		cfg:        cfg,
		engine:     engine,
		logger:     log,
		store:      store,
		redis:      redisClient,
		producer:   producer,
		consumer:   consumer,
		tracer:     tracer,
		grpcServer: grpcSrv,
		grpcAddr:   fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.store.Close()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Warn("failed to close kafka producer", zap.Error(err))
			}
		}
	}()
	defer func() {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("failed to shut down tracer provider", zap.Error(err))
		}
	}()

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("user events consumer stopped", zap.Error(err))
			}
		}()
		defer func() {
			if err := a.consumer.Close(); err != nil {
				a.logger.Warn("failed to close kafka consumer group", zap.Error(err))
			}
		}()
	}

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil && a.grpcAddr != "" {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC server error", zap.Error(err))
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
		defer a.grpcServer.GracefulStop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting biometric API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("version", Version),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}
