package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medsupply/internal/config"
	"medsupply/internal/inventory"
	"medsupply/internal/metrics"
	"medsupply/internal/middleware"
	"medsupply/internal/notify"
	"medsupply/internal/queue"
	"medsupply/internal/realtime"
	"medsupply/internal/repository"
	"medsupply/internal/router"
	"medsupply/internal/scheduler"
	"medsupply/internal/seed"
	"medsupply/internal/service"
	rediskey "medsupply/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.Warnf("invalid LOG_LEVEL %q, using %s", cfg.LogLevel, level)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. SQLite + 自动建表
	db, err := repository.Open(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	orders := repository.NewOrderStore(db)
	products := repository.NewProductStore(db)
	users := repository.NewUserStore(db)
	events := repository.NewEventLogStore(db)

	if cfg.SeedDemo {
		if _, err := seed.Run(ctx, users, products, logger); err != nil {
			logger.WithError(err).Fatal("seed")
		}
	}

	m := metrics.NewRegistry()
	hub := realtime.NewHub(logger, m)

	// 2. Redis（可选）：限流、outbox、调度锁
	var rdb *rd.Client
	if cfg.RedisEnabled() {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("redis ping")
		}
		stream := rediskey.EventStreamKey(cfg.EventStream)
		hub.Observe(queue.NewStreamMirror(rdb, stream, logger, m).Observe)

		// 3. Kafka（可选）：Stream → Kafka → event_logs
		if cfg.KafkaEnabled() {
			producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer producer.Close()
			relay := queue.NewRelay(rdb, producer, stream, cfg.EventGroup, cfg.EventConsumer, logger, m)
			go relay.Run(ctx)

			consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, events, logger, m)
			defer consumer.Close()
			go consumer.Run(ctx)
		}
	}

	hub.Start()
	defer hub.Stop()

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.SMTPEnabled() {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	}
	notifier := notify.NewNotifier(hub, mailer, users, logger, m)
	adjuster := inventory.NewAdjuster(products, orders, notifier, logger, m)
	svc := service.NewOrderService(orders, products, users, adjuster, notifier, logger, m)

	// 4. 待处理订单升级提醒
	var opts []scheduler.Option
	if rdb != nil {
		opts = append(opts, scheduler.WithTickLock(
			scheduler.NewRedisTickLock(rdb, "pending-orders", cfg.SchedulerInterval(), logger)))
	}
	sched := scheduler.New(orders, svc, cfg.SchedulerInterval(), logger, m, opts...)
	sched.Start(ctx)
	defer sched.Stop()

	// 5. HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	deps := router.Deps{
		Orders:  svc,
		Catalog: products,
		Users:   users,
		Hub:     hub,
		Metrics: m,
		Log:     logger,
	}
	if rdb != nil {
		deps.OrderLimiter = middleware.RedisRateLimit(rdb, cfg.OrderRateLimit, cfg.OrderRateWindow(), logger, m)
	}
	router.Setup(r, deps)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE 连接要先关掉，否则 Shutdown 会一直等
	hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
}
