package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	remoteviews "github.com/Arthur1/remote-views"
	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/engine/leveldbcache"
	"github.com/Arthur1/remote-views/cache/engine/rediscache"
	"github.com/Arthur1/remote-views/cache/engine/valkeycache"
	"github.com/Arthur1/remote-views/handler"
	"github.com/Arthur1/remote-views/internal/config"
	"github.com/Arthur1/remote-views/internal/logging"
	"github.com/Arthur1/remote-views/internal/metrics"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("REMOTEVIEWS_CONFIG", "remoteviews.yaml"), "path to remoteviews.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, syncLogger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = syncLogger() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", slog.Any("error", err))
		_ = syncLogger()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	m := metrics.New(true)
	c := cache.New(cfg.Cache.Dir,
		cache.WithStore(store),
		cache.WithLogger(logger),
		cache.WithRecorder(m),
		cache.WithFreshness(cfg.Freshness()),
		cache.WithTimeout(cfg.Timeout()),
		cache.WithConcurrency(cfg.Cache.Concurrency),
		cache.WithMaxBodySize(cfg.MaxBodySize()),
	)
	h := handler.New(c, handler.WithLogger(logger), handler.WithViewOptions(remoteviews.WithRecorder(m)))
	defer h.Close()

	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler.WithRequestLog(logger)(handler.NewServeMux(h, m.Handler())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("remoteviews listening",
			slog.String("addr", addr),
			slog.String("cache_dir", c.Root()),
			slog.String("store", cfg.Store.Driver),
			slog.Duration("freshness", c.Freshness()),
		)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the metadata store named by store.driver.
func openStore(cfg config.Config) (cache.Store, func(), error) {
	switch cfg.Store.Driver {
	case "leveldb":
		s, err := leveldbcache.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		cli := redis.NewClient(&redis.Options{Addr: cfg.Store.Addr})
		var opts []rediscache.Option
		if cfg.TTL() > 0 {
			opts = append(opts, rediscache.WithTTL(cfg.TTL()))
		}
		if cfg.Store.LocalCacheSize > 0 {
			opts = append(opts, rediscache.WithLocalCache(gocache.NewTinyLFU(cfg.Store.LocalCacheSize, time.Minute)))
		}
		return rediscache.New(cli, opts...), func() { _ = cli.Close() }, nil
	case "valkey":
		cli, err := valkeycache.Dial(cfg.Store.Addr)
		if err != nil {
			return nil, nil, err
		}
		s := valkeycache.New(cli, valkeycache.WithTTL(cfg.TTL()))
		return s, s.Close, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
