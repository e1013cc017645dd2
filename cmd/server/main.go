package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/olyamironova/market-engine/internal/adapter/cache"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	"github.com/olyamironova/market-engine/internal/adapter/pg"
	grpcapi "github.com/olyamironova/market-engine/internal/api/grpc"
	httpapi "github.com/olyamironova/market-engine/internal/api/http"
	"github.com/olyamironova/market-engine/internal/config"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/logging"
	"github.com/olyamironova/market-engine/internal/notify"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/olyamironova/market-engine/internal/telemetry"
)

const (
	auctionViewTTL = 5 * time.Minute
	presenceTTL    = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "market-engine")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	repo, closeRepo, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	var (
		viewCache port.Cache              = in_memory.NewCache(auctionViewTTL)
		registry  port.ConnectionRegistry = in_memory.NewRegistry()
		bus       *cache.RedisBus
	)
	if cfg.Redis.Enabled() {
		client := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		viewCache = cache.NewRedisCache(client, auctionViewTTL)
		registry = cache.NewRedisRegistry(client, presenceTTL)
		bus = cache.NewRedisBus(client, log)
		log.Info("redis enabled", slog.String("addr", cfg.Redis.Addr))
	}

	hub := notify.NewHub(registry, log)
	defer hub.Shutdown()

	// With Redis every event goes through the bus and comes back to this
	// instance's hub through Relay, so the hub is not a direct target.
	var sinks notify.Fanout
	if bus != nil {
		sinks = append(sinks, bus)
	} else {
		sinks = append(sinks, hub)
	}
	if cfg.Kafka.Enabled() {
		kafkaSink := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), log)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("kafka sink enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	eng := core.NewEngine(repo, viewCache, sinks,
		core.WithLogger(log),
		core.WithMaxRetries(cfg.TxMaxRetries),
		core.WithOfferTTL(cfg.OfferTTL),
		core.WithCounterTTL(cfg.CounterTTL),
	)
	sweeper := core.NewSweeper(eng, cfg.SweepInterval, cfg.SweepBatchSize)

	httpServer := httpapi.NewHTTPServer(eng, sweeper, hub, httpapi.Config{
		JWTSecret:      []byte(cfg.JWTSecret),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, log)
	grpcServer := grpcapi.NewGRPCServer(eng, sweeper, []byte(cfg.JWTSecret), log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(name+" failed", slog.Any("error", err))
				errCh <- err
				cancel()
			}
		}()
	}
	spawn("sweeper", sweeper.Run)
	spawn("http", func(ctx context.Context) error { return httpServer.Run(ctx, cfg.HTTPAddr) })
	spawn("grpc", func(ctx context.Context) error { return grpcServer.Run(ctx, cfg.GRPCAddr) })
	if bus != nil {
		spawn("redis relay", func(ctx context.Context) error { return bus.Relay(ctx, hub) })
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	close(errCh)
	return <-errCh
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (port.Repository, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, state is lost on restart")
		repo := in_memory.NewMemoryRepo()
		return repo, func() { repo.Close(context.Background()) }, nil
	}
	repo, err := pg.NewPgRepo(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close(ctx)
		return nil, nil, err
	}
	log.Info("postgres store ready")
	return repo, func() { repo.Close(context.Background()) }, nil
}
