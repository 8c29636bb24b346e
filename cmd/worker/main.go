package main

import (
	"context"  // Redis ping
	"net/http" // Metrics listener

	"mlm_ledger/internal/config" // Configuration
	"mlm_ledger/internal/db"     // Database connection
	"mlm_ledger/internal/ledger" // Ledger writer
	"mlm_ledger/internal/tasks"  // Task handlers
	"mlm_ledger/internal/utils"  // Cache invalidation

	"github.com/hibiken/asynq"                                // Task queue server and scheduler
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/redis/go-redis/v9"                            // Redis client
	"github.com/sirupsen/logrus"                              // Structured logging
)

// driftCheckSpec is how often the scheduler compares cached balances with the ledger
const driftCheckSpec = "@every 10m"

func main() {
	cfg := config.LoadConfig()
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	gdb, err := db.Open(cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}

	// Same cache the API reads, so a reconcile here drops stale wallet views there
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	writer := ledger.NewWriter(gdb, cfg.TxIsolation)
	writer.OnCommit(utils.CommitInvalidator(redisClient))
	opt := tasks.RedisOpt(cfg)

	// The drift gauge is set here, so the worker needs its own scrape target
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.WorkerMetricsPort, mux); err != nil {
			logrus.WithError(err).Error("Worker metrics listener stopped")
		}
	}()

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logrus.WithError(err).Warn("Scheduled drift check not enqueued")
			}
		},
	})
	if _, err := scheduler.Register(driftCheckSpec, asynq.NewTask(tasks.TypeDriftCheck, nil), asynq.Queue(tasks.QueueLedger)); err != nil {
		logrus.Fatalf("failed to register drift check: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		logrus.Fatalf("failed to start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{tasks.QueueLedger: 1},
		Logger:      logrus.StandardLogger(),
	})

	logrus.WithFields(logrus.Fields{
		"concurrency":  cfg.WorkerConcurrency,
		"queue":        tasks.QueueLedger,
		"drift_check":  driftCheckSpec,
		"metrics_port": cfg.WorkerMetricsPort,
	}).Info("Worker running")
	if err := srv.Run(tasks.NewMux(&tasks.Handlers{Writer: writer})); err != nil {
		logrus.Fatalf("worker stopped: %v", err)
	}
}
