package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tickerpulse/internal/api"
	"tickerpulse/internal/cache"
	"tickerpulse/internal/config"
	"tickerpulse/internal/db"
	"tickerpulse/internal/gateway"
	"tickerpulse/internal/ingest"
	"tickerpulse/internal/logging"
	"tickerpulse/internal/models"
	"tickerpulse/internal/providers"
	"tickerpulse/internal/queue"
	"tickerpulse/internal/ratelimit"
	"tickerpulse/internal/store"
	"tickerpulse/internal/subscription"
	"tickerpulse/internal/validation"
	"tickerpulse/internal/worker"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed:", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatal("Logger init failed:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backing store: one shared connection, plus a duplicate dedicated to
	// queue internals. Connections are lazy so an unreachable host does
	// not crash boot.
	shared, err := store.New(cfg)
	if err != nil {
		logger.Errorf("Store init failed: %v", err)
		log.Fatal("Store init failed:", err)
	}
	queueStore := shared.Dup()
	defer func() {
		if err := shared.Close(); err != nil {
			logger.Errorf("Store close failed: %v", err)
		}
		if err := queueStore.Close(); err != nil {
			logger.Errorf("Queue store close failed: %v", err)
		}
	}()

	// Connect to the external relational store
	dbConn, err := db.New(cfg.DB.DSN)
	if err != nil {
		logger.Errorf("DB connect failed: %v", err)
		log.Fatal("DB connect failed:", err)
	}
	defer dbConn.Close()

	// Cache layer with cross-instance invalidation
	cacheSvc := cache.New(shared, logger)
	if err := cacheSvc.Start(ctx); err != nil {
		logger.Warnf("Cache invalidation listener unavailable: %v", err)
	}
	defer cacheSvc.Close()

	// Core services
	queues := queue.NewSet(queueStore, logger)
	limiter := ratelimit.New(shared, logger)
	registry := subscription.New(shared)
	engine := validation.NewEngine(dbConn, logger)
	gw := gateway.New(shared, registry, logger)

	dataClient := providers.NewDataClient(
		cfg.Providers.MarketDataURL,
		cfg.Providers.NewsURL,
		cfg.Providers.FilingsURL,
	)
	notifier := providers.NewDispatcher(cfg, logger)

	// Worker pool with domain handlers
	var wg sync.WaitGroup
	queues.StartMaintenance(ctx, &wg)

	pool := worker.NewPool(queues, cfg.Worker.Concurrency,
		time.Duration(cfg.Worker.PollInterval)*time.Millisecond, logger)
	handlers := worker.NewHandlers(dbConn, engine, queues, registry, shared,
		cacheSvc, dataClient, dataClient, dataClient, notifier, logger)
	handlers.RegisterAll(pool)
	pool.Start(ctx, &wg)

	// Hourly sweep of expired failed notifications
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		workerQ, _ := queues.Get(queue.QueueWorker)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := workerQ.Enqueue(ctx, models.JobSweepExpired, struct{}{},
					queue.WithJobID(queue.DeterministicID(models.JobSweepExpired, "sweep", time.Now()))); err != nil {
					logger.Warnf("Sweep enqueue failed: %v", err)
				}
			}
		}
	}()

	// Market event consumer (optional; the admin API can also enqueue)
	var consumer *ingest.Consumer
	if cfg.Kafka.Broker != "" {
		consumer = ingest.NewConsumer(cfg, queues, limiter, logger)
		consumer.Start(ctx, &wg)
	} else {
		logger.Warn("KAFKA_BROKER not set, market event consumer disabled")
	}

	// API server + websocket gateway
	r := api.NewRouter(queues, shared, gw, logger, cfg)
	go func() {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := r.Run(cfg.API.Port); err != nil {
			logger.Errorf("API run failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Shutting down...")
	cancel()
	gw.Close()
	if consumer != nil {
		consumer.Close()
	}
	wg.Wait()
	logger.Info("Service stopped")
}
