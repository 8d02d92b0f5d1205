// Package main provides the scout sync daemon: the offline observation queue,
// its synchronizer and the local HTTP API the scouting UI talks to.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scout-sync/internal/api"
	"github.com/scout-sync/internal/cache"
	"github.com/scout-sync/internal/circuitbreaker"
	"github.com/scout-sync/internal/config"
	"github.com/scout-sync/internal/connectivity"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/localstore"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/queue"
	"github.com/scout-sync/internal/ratelimit"
	"github.com/scout-sync/internal/retry"
	"github.com/scout-sync/internal/service"
	"github.com/scout-sync/internal/storage"
	"github.com/scout-sync/internal/worker"
)

func main() {
	fmt.Println("Scout Sync Daemon")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	// Local store first: the queue must work with no network at all
	store, err := localstore.Open(ctx, cfg.Local.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open local store")
	}
	defer store.Close()
	logger.WithField("path", store.Path()).Info("Local store opened")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure Postgres")
	}
	defer postgres.Close()
	remote := storage.NewRemote(postgres)

	var prober connectivity.Prober = connectivity.PingProber{Pinger: postgres}
	if cfg.Connectivity.ProbeURL != "" {
		prober = connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL)
	}
	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:        prober,
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
	})

	offlineQueue, err := queue.New(ctx, queue.Config{
		Store:             store,
		MaxDepth:          cfg.Sync.MaxQueueDepth,
		MaxRetryAttempts:  cfg.Sync.MaxRetryAttempts,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize offline queue")
	}
	defer offlineQueue.Close()

	readCache := cache.NewManager(cache.Config{
		Remote: remote,
		Store:  store,
		Online: monitor,
	})
	defer readCache.Wait()

	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:         "remote-store",
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Breaker.HalfOpenMax,
		IsFailure:    apperrors.IsRetryable,
	})

	pacer := ratelimit.NewRemotePacer(remote, cfg.Sync.RemoteWriteRPS, cfg.Sync.RemoteWriteBurst)

	syncCfg := &worker.SynchronizerConfig{
		Store:            store,
		Remote:           pacer,
		Queue:            offlineQueue,
		Connectivity:     monitor,
		Breaker:          breaker,
		MaxRetryAttempts: cfg.Sync.MaxRetryAttempts,
		Backoff: &retry.RetryConfig{
			InitialDelay: cfg.Sync.BackoffInitial,
			MaxDelay:     cfg.Sync.BackoffMax,
			Multiplier:   2.0,
		},
	}

	// Optional audit log
	if cfg.Database.ClickHouse.Host != "" {
		clickhouse, err := connectOptional(ctx, "ClickHouse", func() (*storage.ClickHouseDB, error) {
			return storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		})
		if err != nil {
			logger.WithError(err).Warn("Sync audit log disabled")
		} else {
			defer clickhouse.Close()
			syncCfg.Events = storage.NewSyncEventRepository(clickhouse)
		}
	}

	synchronizer, err := worker.NewSynchronizer(syncCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize synchronizer")
	}

	// Optional status mirror for other processes
	var relay *worker.StatusRelay
	if cfg.Database.Redis.Host != "" {
		redis, err := connectOptional(ctx, "Redis", func() (*storage.RedisCache, error) {
			return storage.NewRedisCache(&cfg.Database.Redis)
		})
		if err != nil {
			logger.WithError(err).Warn("Status publishing disabled")
		} else {
			defer redis.Close()
			relay = worker.NewStatusRelay(synchronizer, storage.NewStatusPublisher(redis, 0))
		}
	}

	submissions := service.NewSubmissionService(service.SubmissionConfig{
		Queue:       offlineQueue,
		Remote:      remote,
		Online:      monitor,
		AlwaysQueue: cfg.Sync.AlwaysQueue,
	})

	// Background loops
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start connectivity monitor")
	}
	if err := offlineQueue.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start queue reconciliation")
	}
	if relay != nil {
		if err := relay.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start status relay")
		}
	}
	if err := synchronizer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start synchronizer")
	}

	serverConfig := api.DefaultServerConfig(cfg.Server.Host, cfg.Server.Port)
	serverConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	serverConfig.Burst = cfg.RateLimit.Burst

	server := api.NewServer(serverConfig, api.Dependencies{
		Sync:         synchronizer,
		Queue:        offlineQueue,
		Submissions:  submissions,
		Cache:        readCache,
		Connectivity: monitor,
		LocalStore:   store,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"online":  monitor.IsOnline(),
		"pending": offlineQueue.PendingCount(),
	}).Info("Daemon started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down daemon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	// Let a running pass finish its current entry before the store closes
	if err := synchronizer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Synchronizer stop failed")
	}
	if relay != nil {
		if err := relay.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Status relay stop failed")
		}
	}
	if err := offlineQueue.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Queue reconciliation stop failed")
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Connectivity monitor stop failed")
	}

	logger.Info("Daemon exited")
}

// connectOptional retries a connection to an optional backend a few times
// before the daemon gives up on it
func connectOptional[T any](ctx context.Context, name string, connect func() (T, error)) (T, error) {
	var conn T
	result := retry.WithExponentialBackoff(ctx, &retry.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}, func(ctx context.Context, attempt int) error {
		c, err := connect()
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"backend": name,
				"attempt": attempt,
			}).Debug("Connection attempt failed")
			return err
		}
		conn = c
		return nil
	})
	if !result.Success {
		var zero T
		return zero, fmt.Errorf("connect to %s after %d attempts: %w", name, result.Attempts, result.LastError)
	}
	return conn, nil
}
