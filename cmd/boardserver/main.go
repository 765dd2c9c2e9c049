package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/boardroom/internal/authority"
	appcfg "github.com/park285/boardroom/internal/config"
	"github.com/park285/boardroom/internal/migrations"
	"github.com/park285/boardroom/internal/obslog"
	"github.com/park285/boardroom/internal/server"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		obslog.L().Error("boardserver_exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := appcfg.LoadServer()
	if err != nil {
		return err
	}
	logger := obslog.Named("boardserver")

	checks := map[string]server.Checker{}
	opts := []authority.Option{
		authority.WithLogger(obslog.Named("authority")),
		authority.WithDefaultControl(cfg.DefaultBaseSeconds, cfg.DefaultIncrementSeconds),
	}

	store, rdb, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		opts = append(opts, authority.WithPresence(authority.NewRedisPresence(rdb, authority.DefaultLease, nil)))
	}

	if cfg.DatabaseURL != "" {
		db, err := authority.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Run(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		checks["postgres"] = server.CheckFunc(func(ctx context.Context) error { return db.PingContext(ctx) })
		opts = append(opts, authority.WithArchive(authority.NewPostgresArchive(db)))
		logger.Info("archive_enabled")
	}

	manager := authority.NewManager(store, opts...)
	broker := server.NewBroker()
	var (
		pub    server.Publisher = broker
		fanout *server.RedisFanout
	)
	if rdb != nil {
		fanout, err = server.NewRedisFanout(ctx, rdb, broker, obslog.Named("fanout"))
		if err != nil {
			return err
		}
		defer func() { _ = fanout.Close() }()
		pub = fanout
	}
	srv := server.New(cfg.HTTPAddr, server.Deps{
		Manager:        manager,
		Broker:         broker,
		Publisher:      pub,
		Checks:         checks,
		AllowedRooms:   cfg.AllowedRooms,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         obslog.Named("server"),
	})
	sweeper := server.NewSweeper(manager, broker, pub, cfg.TickInterval(), obslog.Named("sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		return srv.Run(gctx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if fanout != nil {
		g.Go(func() error { return fanout.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_begin")
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// openStore picks Redis when REDIS_URL is set, memory otherwise. The client is
// nil for the memory store.
func openStore(ctx context.Context, cfg *appcfg.ServerConfig, checks map[string]server.Checker) (authority.Store, *redis.Client, error) {
	if cfg.RedisURL == "" {
		obslog.L().Warn("store_memory", zap.String("reason", "REDIS_URL not set"))
		return authority.NewMemoryStore(), nil, nil
	}
	rdb, err := authority.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = redisCheck{rdb}
	return authority.NewRedisStore(rdb, cfg.RoomTTL()), rdb, nil
}

type redisCheck struct{ rdb *redis.Client }

func (c redisCheck) Check(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }
