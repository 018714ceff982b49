package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/glowdesk/glowdesk/internal/giftcards"
	"github.com/glowdesk/glowdesk/internal/reporting"
	"github.com/glowdesk/glowdesk/internal/scheduler"
	"github.com/glowdesk/glowdesk/pkg/common"
	"github.com/glowdesk/glowdesk/pkg/config"
	"github.com/glowdesk/glowdesk/pkg/database"
	"github.com/glowdesk/glowdesk/pkg/eventbus"
	"github.com/glowdesk/glowdesk/pkg/health"
	"github.com/glowdesk/glowdesk/pkg/logger"
	"github.com/glowdesk/glowdesk/pkg/middleware"
	"github.com/glowdesk/glowdesk/pkg/ratelimit"
	"github.com/glowdesk/glowdesk/pkg/redis"
)

const serviceName = "giftcards-api"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Connect to PostgreSQL
	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)

	if err := database.RunMigrations(&cfg.Database, "migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Connect to Redis; reporting degrades gracefully without it
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, stats caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Audit bus
	var bus eventbus.Publisher = eventbus.Noop{}
	var natsBus *eventbus.Bus
	if cfg.NATS.Enabled {
		natsBus, err = eventbus.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Warn("nats unavailable, audit events disabled", zap.Error(err))
		} else {
			defer natsBus.Close()
			bus = natsBus
		}
	}

	// Services and handlers
	repo := giftcards.NewRepository(pool)
	cardService := giftcards.NewService(repo, bus,
		giftcards.WithDefaultValidityMonths(cfg.GiftCards.DefaultValidityMonths),
	)
	cardHandler := giftcards.NewHandler(cardService)

	statsTTL := time.Duration(cfg.GiftCards.StatsCacheSeconds) * time.Second
	var reportingService *reporting.Service
	if redisClient != nil && statsTTL > 0 {
		reportingService = reporting.NewService(cardService, redisClient.Client, statsTTL)
	} else {
		reportingService = reporting.NewService(cardService, nil, statsTTL)
	}
	reportingHandler := reporting.NewHandler(reportingService)

	// Audit events double as the cache invalidation signal, so the stats
	// endpoint reflects mutations ahead of the TTL
	if natsBus != nil {
		err := natsBus.Subscribe(context.Background(), "giftcards.>", "reporting",
			func(ctx context.Context, event *eventbus.Event) error {
				reportingService.Invalidate(ctx)
				return nil
			},
		)
		if err != nil {
			logger.Warn("failed to subscribe reporting invalidation", zap.Error(err))
		}
	}

	// Expiry sweep
	worker := scheduler.NewWorker(cardService, logger.Get(),
		time.Duration(cfg.GiftCards.ExpireSweepMinutes)*time.Minute,
	)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	// Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.MaxBodySize(1 << 20))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.Server.CORSOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	healthChecks := map[string]func() error{
		"postgres": health.DatabaseChecker(pool),
	}
	if redisClient != nil {
		healthChecks["redis"] = health.RedisChecker(redisClient.Client)
	}
	router.GET("/healthz", common.HealthCheckWithDeps(serviceName, "1.0.0", healthChecks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var limiterClient goredis.UniversalClient
	if redisClient != nil {
		limiterClient = redisClient.Client
	}
	limiter := ratelimit.NewLimiter(limiterClient, cfg.RateLimit)

	api := router.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		cardHandler.RegisterRoutes(api)
		reportingHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("gift card service starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	worker.Stop()
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
