package main

import (
	"context" // context package is needed for Redis operations
	"time"    // Shutdown timeouts

	"mlm_ledger/internal/api"        // Custom package for API handlers
	"mlm_ledger/internal/audit"      // Attribution audit sinks
	"mlm_ledger/internal/commission" // Attribution engine
	"mlm_ledger/internal/config"     // Custom package for configuration
	"mlm_ledger/internal/db"         // Database connection
	"mlm_ledger/internal/ledger"     // Ledger writer
	"mlm_ledger/internal/tasks"      // Reconcile queue

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/hibiken/asynq"     // Task queue client
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	gdb, err := db.Open(cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	policy, err := commission.ParsePolicy(cfg.MissingPolicy)
	if err != nil {
		logrus.Fatalf("invalid COMMISSION_MISSING_POLICY: %v", err)
	}

	var sink audit.Sink = audit.LogSink{}
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoSink, err := audit.NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDB)
		cancel()
		if err != nil {
			logrus.Fatalf("failed to connect to MongoDB: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoSink.Close(ctx)
		}()
		sink = mongoSink
	}

	writer := ledger.NewWriter(gdb, cfg.TxIsolation)
	engine := commission.NewEngine(writer, policy, cfg.MaxHops, sink)

	// Reconciles go to the worker unless the deployment runs without one
	var enqueuer tasks.Enqueuer = &tasks.InlineEnqueuer{Writer: writer}
	if !cfg.InlineReconcile {
		client := asynq.NewClient(tasks.RedisOpt(cfg))
		defer client.Close()
		enqueuer = &tasks.QueueEnqueuer{Client: client}
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r := api.NewRouter(api.Deps{
		DB:          gdb,
		Redis:       redisClient,
		Writer:      writer,
		Engine:      engine,
		Audit:       sink,
		Enqueuer:    enqueuer,
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimitPerSec,
	})

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"port":           cfg.AppPort,
		"missing_policy": policy,
		"audit_mongo":    cfg.MongoURI != "",
	}).Info("Server running")
	if err := r.Run(":" + cfg.AppPort); err != nil {
		logrus.Fatalf("server stopped: %v", err)
	}
}
