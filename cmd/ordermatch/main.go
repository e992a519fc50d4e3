package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exchange/ordermatch/internal/api"
	"github.com/exchange/ordermatch/internal/config"
	"github.com/exchange/ordermatch/internal/console"
	"github.com/exchange/ordermatch/internal/handler"
	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/marketdata"
	"github.com/exchange/ordermatch/internal/metrics"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/internal/recovery"
	envconfig "github.com/exchange/ordermatch/pkg/config"
	"github.com/exchange/ordermatch/pkg/health"
	"github.com/exchange/ordermatch/pkg/logger"
	"github.com/exchange/ordermatch/pkg/redis"
	"github.com/exchange/ordermatch/pkg/tracing"
)

func main() {
	if err := envconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.ServiceName, os.Stdout, cfg.LogLevel)

	log.Infof("starting", map[string]interface{}{"env": cfg.AppEnv, "httpPort": cfg.HTTPPort})
	if err := cfg.Validate(); err != nil {
		fatal(log, "invalid config", err)
	}
	metrics.Init()

	tracingShutdown, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.AppEnv,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		fatal(log, "init tracing", err)
	}

	// 连接 Redis
	tlsConfig, err := redis.BuildTLSConfig(cfg.RedisTLS)
	if err != nil {
		fatal(log, "redis tls", err)
	}
	redisCfg := redis.DefaultConfig
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB
	redisCfg.TLS = tlsConfig
	redisClient, err := redis.NewClient(&redisCfg)
	if err != nil {
		fatal(log, "connect redis", err)
	}
	log.Infof("connected to redis", map[string]interface{}{"addr": cfg.RedisAddr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 同一输入流只允许一个撮合实例
	lock := redis.NewLock(redisClient, "ordermatch:lock:"+cfg.OrderStream, cfg.ConsumerName, cfg.InstanceLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		fatal(log, "acquire instance lock", err)
	}
	if !acquired {
		fatal(log, "acquire instance lock", redis.ErrLockHeld)
	}
	lockLost := make(chan error, 1)
	go lock.KeepAlive(ctx, func(err error) { lockLost <- err })

	seed, err := idgen.Seed(time.Now(), cfg.WorkerID)
	if err != nil {
		fatal(log, "seed id generator", err)
	}
	ids := idgen.New(seed)
	matcher := orderbook.NewMatcher()

	hc := health.New()
	hc.Register(health.NewRedisChecker(redisClient))

	store, err := openStore(ctx, cfg, hc)
	if err != nil {
		fatal(log, "open snapshot store", err)
	}
	if _, err := recovery.Restore(ctx, store, matcher, ids, log); err != nil {
		fatal(log, "restore order books", err)
	}

	h := handler.NewHandler(redisClient.Client, &handler.Config{
		OrderStream: cfg.OrderStream,
		EventStream: cfg.EventStream,
		Group:       cfg.ConsumerGroup,
		Consumer:    cfg.ConsumerName,
		DedupeTTL:   cfg.DedupeTTL,
		CmdBuffer:   cfg.CmdBuffer,
		EventBuffer: cfg.EventBuffer,
		Matcher:     matcher,
		IDs:         ids,
		Publisher:   marketdata.NewPublisher(redisClient.Client, cfg.MarketDataChannel, cfg.PriceScale),
		Logger:      log,
	})
	if err := h.Start(ctx); err != nil {
		fatal(log, "start handler", err)
	}
	hc.Register(health.LoopChecker("orderStreamConsumer", h.Loop(), 45*time.Second))
	log.Infof("handler started", map[string]interface{}{"stream": cfg.OrderStream})

	var saver *recovery.Saver
	if store != nil {
		saver, err = recovery.NewSaver(store, matcher, ids, cfg.SnapshotSchedule, log)
		if err != nil {
			fatal(log, "snapshot saver", err)
		}
		saver.Start()
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: api.NewServer(api.Options{
			Matcher:       matcher,
			Health:        hc,
			InternalToken: cfg.InternalToken,
			MetricsToken:  cfg.MetricsToken,
			PriceScale:    cfg.PriceScale,
			Logger:        log,
		}).Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	go func() {
		log.Infof("http server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(log, "http server", err)
		}
	}()
	hc.SetReady(true)

	quit := make(chan struct{})
	if cfg.ConsoleEnabled {
		var s console.SnapshotSaver
		if saver != nil {
			s = saver
		}
		c := console.New(os.Stdin, os.Stdout, matcher, s, cfg.PriceScale, log)
		go func() {
			if err := c.Run(ctx); errors.Is(err, console.ErrQuit) {
				close(quit)
			}
		}()
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("signal received", map[string]interface{}{"signal": sig.String()})
	case <-quit:
		log.Info("quit from console")
	case err := <-lockLost:
		log.WithError(err).Error("instance lock lost")
	}

	log.Info("shutting down")
	hc.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	cancel()
	h.Stop()
	if saver != nil {
		saver.Stop(shutdownCtx)
		if err := saver.SaveNow(shutdownCtx); err != nil {
			log.WithError(err).Error("final snapshot failed")
		}
	}
	if store != nil {
		_ = store.Close()
	}
	if err := lock.Release(shutdownCtx); err != nil {
		log.WithError(err).Warn("release instance lock")
	}
	_ = redisClient.Close()
	if tracingShutdown != nil {
		_ = tracingShutdown(shutdownCtx)
	}
	log.Info("shutdown complete")
}

// openStore 按 SNAPSHOT_BACKEND 打开快照存储，none 时返回 nil
func openStore(ctx context.Context, cfg *config.Config, hc *health.Health) (recovery.Store, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotPebble:
		return recovery.NewPebbleStore(cfg.SnapshotDir)
	case config.SnapshotPostgres:
		db, err := recovery.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := recovery.NewPGStore(db, "", cfg.SnapshotKeep)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		hc.Register(health.NewPostgresChecker(db))
		return store, nil
	default:
		return nil, nil
	}
}

func fatal(log *logger.Logger, msg string, err error) {
	log.WithError(err).Error(msg)
	os.Exit(1)
}
