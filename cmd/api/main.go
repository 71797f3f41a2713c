package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/config"
	"github.com/lkzdsb-lab/community-feed/internal/handler"
	"github.com/lkzdsb-lab/community-feed/internal/notify"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/repository/redis"
	"github.com/lkzdsb-lab/community-feed/internal/router"
	"github.com/lkzdsb-lab/community-feed/internal/service"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	if err := pkg.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = pkg.Logger.Sync() }()
	log := pkg.Logger

	db, err := mysql.InitDB(cfg)
	if err != nil {
		log.Fatal("connect mysql", zap.Error(err))
	}
	// 自动建表
	if err := mysql.Migrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// redis 不可用时降级：浏览去重只走数据库，对账任务不加锁
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		if rdb, err = redis.Init(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
			_ = redis.Close()
			rdb = nil
		} else {
			defer func() { _ = redis.Close() }()
		}
	}

	var notifier notify.Dispatcher = notify.NewLogDispatcher(log)
	if len(cfg.KafkaBrokers) > 0 {
		producer := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaNotifyTopic})
		defer func() { _ = producer.Close() }()
		notifier = notify.Multi{notify.NewKafkaDispatcher(producer), notifier}
	}

	deps := service.Deps{DB: db, Redis: rdb, Notifier: notifier, Logger: log, Feed: cfg.Feed}
	communities := service.NewCommunityService(deps)
	trending := service.NewTrendingService(deps)
	feeds := service.NewFeedService(deps)
	moderation := service.NewModerationService(deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := service.NewCounterReconciler(db, rdb, cfg.Feed.ReconcileInterval, log)
	go reconciler.Run(ctx)

	r := router.InitRouter(cfg, pkg.NewTokenCodec(cfg.JWTSecret), router.Handlers{
		Community: handler.NewCommunityHandler(communities, trending),
		Feed:      handler.NewFeedHandler(feeds, moderation),
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped with error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
