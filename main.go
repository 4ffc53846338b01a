package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerchat/config"
	infraredis "peerchat/infrastructure/redis"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"
	"peerchat/server"
	"peerchat/services/archive"
	"peerchat/services/dispatcher"
	"peerchat/services/guard"
	"peerchat/services/relay"
	"peerchat/services/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func run() error {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.PrintSummary()

	appLog := logger.New(cfg.Server.LogFile, logger.ParseLevel(cfg.Server.LogLevel))
	defer appLog.Close()
	logger.SetDefault(appLog)
	appLog = appLog.WithField("node", cfg.Node.Identity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb redis.UniversalClient
	if cfg.Store.Backend == config.StoreRedis {
		client, err := infraredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		defer client.Close()
		rdb = client
		appLog.WithField("addr", cfg.Redis.Address).Info("connected to redis")
	}

	kv, err := store.OpenKV(ctx, cfg, rdb)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	st := store.New(kv, cfg.Store.KeyPrefix)
	defer st.Close()
	appLog.WithField("backend", kv.Name()).Info("durable store ready")

	var db *sql.DB
	if pg, ok := kv.(*store.PostgresKV); ok {
		db = pg.DB()
	}
	metrics.RegisterCollectors(db, rdb)
	metrics.SetNodeInfo(cfg.Node.Identity, cfg.Store.Backend)

	var directory relay.Directory = relay.StaticDirectory(cfg.Relay.Peers)
	if rdb != nil {
		registry := relay.NewRedisDirectory(rdb, cfg.Relay.Peers)
		if err := registry.Register(ctx, cfg.Node.Identity, cfg.Node.AdvertiseURL); err != nil {
			return fmt.Errorf("failed to register in peer registry: %w", err)
		}
		defer func() {
			if err := registry.Deregister(context.Background(), cfg.Node.Identity); err != nil {
				appLog.WithError(err).Warn("failed to leave peer registry")
			}
		}()
		directory = registry
	}
	relayClient := relay.NewClient(cfg.Node.Identity, directory, cfg.Relay.Timeout)

	var publisher archive.Publisher = archive.Noop{}
	if cfg.Kafka.Address != "" {
		kp, err := archive.NewKafkaPublisher(cfg.Kafka, "peerchat-"+cfg.Node.Identity)
		if err != nil {
			return fmt.Errorf("failed to initialize archive publisher: %w", err)
		}
		publisher = kp
		appLog.WithField("topic", cfg.Kafka.Topic).Info("archive stream enabled")
	}
	defer publisher.Close()

	d := dispatcher.New(dispatcher.Config{
		Identity:  cfg.Node.Identity,
		QueueSize: cfg.Live.QueueSize,
	}, st, guard.New(st), relayClient, publisher)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		d.Run(ctx)
	}()
	// The dispatcher stops before the archive and the store close
	defer func() {
		cancel()
		<-dispatcherDone
	}()

	srv := server.NewServer(cfg, appLog, server.Deps{
		Dispatcher: d,
		Peers:      directory,
		Breakers:   relayClient,
		Redis:      rdb,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for running := true; running; {
		select {
		case err := <-errChan:
			return fmt.Errorf("server error: %w", err)
		case sig := <-quit:
			if sig == syscall.SIGHUP {
				if err := appLog.Rotate(); err != nil {
					appLog.WithError(err).Warn("log rotation failed")
				}
				continue
			}
			appLog.WithField("signal", sig.String()).Info("shutting down")
			running = false
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	appLog.Info("shutdown complete")
	return nil
}
