package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/weaveflow-go/internal/execution/adapters/db/repository"
	"github.com/weaveflow-go/internal/execution/adapters/http/handlers"
	"github.com/weaveflow-go/internal/execution/adapters/memory"
	liveredis "github.com/weaveflow-go/internal/execution/adapters/redis"
	"github.com/weaveflow-go/internal/execution/app/engine"
	"github.com/weaveflow-go/internal/execution/app/recovery"
	"github.com/weaveflow-go/internal/execution/app/scheduler"
	"github.com/weaveflow-go/internal/execution/app/tracker"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/internal/executor"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/database"
	"github.com/weaveflow-go/pkg/events"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/metrics"
	"github.com/weaveflow-go/pkg/ratelimit"
	"github.com/weaveflow-go/pkg/telemetry"
)

const serviceName = "weaveflow"

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	engine     *engine.Engine
	recovery   *recovery.Manager
	db         *database.DB
	redis      *redis.Client
	liveState  *liveredis.LiveState
	eventBus   events.EventBus
	telemetry  *telemetry.Telemetry
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: log}

	tel, err := telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	// Initialize run store
	var store ports.RunStore
	switch cfg.Database.Driver {
	case "memory":
		store = memory.NewStore()
	default:
		db, err := database.New(cfg.Database.ToDatabaseConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(repository.Models()...); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		s.db = db
		store = repository.NewRunRepository(db)
	}

	// Initialize event bus
	if cfg.Kafka.Enabled {
		bus, err := events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig(), log)
		if err != nil {
			s.closeDeps()
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		s.eventBus = bus
	} else {
		s.eventBus = events.NewMemoryEventBus(log)
	}

	instanceID := InstanceID(cfg.Server.InstanceID)
	trackerOpts := []tracker.Option{tracker.WithEventBus(s.eventBus), tracker.WithOwner(instanceID)}

	// Initialize Redis
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			s.closeDeps()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.redis = client
		ttl := time.Duration(cfg.Redis.KeyTTL) * time.Second
		s.liveState = liveredis.NewLiveState(client, ttl)
		trackerOpts = append(trackerOpts, tracker.WithLiveState(s.liveState))
	}

	nodeRegistry, err := executor.NewRegistry(cfg, log)
	if err != nil {
		s.closeDeps()
		return nil, err
	}

	s.engine = engine.New(engine.Deps{
		Store:     store,
		Tracker:   tracker.New(store, log, trackerOpts...),
		Executor:  nodeRegistry,
		Catalog:   nodeRegistry,
		Telemetry: tel,
		Logger:    log,
	}, engine.Config{
		Scheduler: scheduler.Config{
			MaxConcurrency: cfg.Scheduler.MaxConcurrency,
			NodeTimeout:    cfg.Scheduler.NodeTimeout,
		},
		RunTimeout:        cfg.Scheduler.RunTimeout,
		HeartbeatInterval: cfg.Scheduler.HeartbeatInterval,
	})

	if finder, ok := store.(recovery.Store); ok {
		s.recovery = recovery.NewManager(finder, s.eventBus, log,
			recovery.WithOwner(instanceID),
			recovery.WithLeaseTTL(cfg.Scheduler.LeaseTTL),
		)
	}

	router := s.setupRouter(handlers.NewRunHandlers(s.engine, s.readinessChecks(), log))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return s, nil
}

// InstanceID returns the configured replica id, falling back to the hostname
// and then to a random id.
func InstanceID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}

func (s *Server) readinessChecks() map[string]handlers.ReadinessCheck {
	checks := map[string]handlers.ReadinessCheck{}
	if s.db != nil {
		checks["database"] = s.db.Ping
	}
	if s.liveState != nil {
		checks["redis"] = s.liveState.Ping
	}
	return checks
}

func (s *Server) setupRouter(h *handlers.RunHandlers) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(s.telemetry.HTTPMiddleware())
	router.Use(loggingMiddleware(s.logger))
	router.Use(metricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(router, h, s.submitLimiter())
	return router
}

// submitLimiter shares limits across replicas through Redis when it is
// available and falls back to a per-process token bucket.
func (s *Server) submitLimiter() gin.HandlerFunc {
	limit := s.config.Server.SubmitLimit
	if limit <= 0 {
		return nil
	}
	var limiter ratelimit.RateLimiter
	if s.redis != nil {
		limiter = ratelimit.NewRedisRateLimiter(s.redis, limit, time.Minute)
	} else {
		limiter = ratelimit.NewTokenBucketLimiter(float64(limit)/60, limit)
	}
	return ratelimit.Middleware(limiter, ratelimit.IPKeyFunc)
}

// Engine exposes the run engine, mainly for tests.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if s.recovery != nil {
		closed, err := s.recovery.Recover(context.Background())
		if err != nil {
			s.logger.Error("Failed to recover interrupted runs", "error", err)
		} else if closed > 0 {
			s.logger.Warn("Closed interrupted runs", "count", closed)
		}
	}

	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	// Cancel and drain in-flight runs
	if err := s.engine.Stop(ctx); err != nil {
		s.logger.Error("Runs did not finish before shutdown deadline", "error", err)
	}

	s.closeDeps()
	return nil
}

func (s *Server) closeDeps() {
	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			s.logger.Error("Failed to close event bus", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", "error", err)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			s.logger.Error("Failed to flush telemetry", "error", err)
		}
	}
}

// Middleware functions
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(serviceName, c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		metrics.RecordHTTPDuration(serviceName, c.Request.Method, path, time.Since(start).Seconds())
	}
}
