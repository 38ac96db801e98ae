package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/evgenyvinnik/checkout-api/configs"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/cache"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/gateway"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/http"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/http/middleware"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/kafka"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/observ"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/queue"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/repo"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	"github.com/evgenyvinnik/checkout-api/internal/breaker"
	"github.com/evgenyvinnik/checkout-api/internal/idempotency"
	"github.com/evgenyvinnik/checkout-api/internal/logging"
	"github.com/evgenyvinnik/checkout-api/internal/retention"
	"github.com/evgenyvinnik/checkout-api/internal/retry"
	"github.com/evgenyvinnik/checkout-api/internal/security"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

type App struct {
	Router *gin.Engine
}

func InitWithConfig(cfg configs.Config) (*App, func(), error) {
	logger := logging.Init("checkout-api", "./logs/app.log")

	// init database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("mysql ping: %w", err)
	}

	logger.Info("checkout-api starting up")

	// init redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	// init rabbitmq
	conn, err := amqp091.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("rabbit channel: %w", err)
	}

	// archive blob sealer
	cm, err := security.LoadCryptoMaterial(cfg)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := security.NewSealer(cm)
	if err != nil {
		return nil, nil, err
	}

	// retry budgets, environment-overridable like the breaker settings
	dbRetry := retry.Database().With(retryOverrides(cfg.Retry.Database))
	payRetry := retry.Payment().With(retryOverrides(cfg.Retry.Payment))
	cacheRetry := retry.Cache().With(retryOverrides(cfg.Retry.Cache))

	// repos + caches
	txStore := repo.NewTxStore(db)
	orderRepo := repo.NewMySQLOrderRepo(db)
	auditRepo := repo.NewMySQLAuditRepo(db)
	statsRepo := repo.NewMySQLStatsRepo(db)
	retStore := repo.NewMySQLRetentionStore(db)
	durable := repo.NewMySQLIdempotencyRepo(db)
	fast := cache.NewRedisIdempotencyStore(rdb)
	statusCache := cache.NewRedisCache(rdb, cfg.Idempotency.TTL, cacheRetry)

	auditor := audit.NewLogger(auditRepo, logging.New("audit"))
	idem := idempotency.NewManager(fast, durable, cfg.Idempotency.TTL, logging.New("idempotency"))

	// payment circuit breaker
	registry := breaker.NewRegistry()
	settings := breaker.PaymentSettings()
	if cfg.Breaker.Timeout > 0 {
		settings.Timeout = cfg.Breaker.Timeout
	}
	if cfg.Breaker.ErrorThresholdPct > 0 {
		settings.ErrorThresholdPct = float64(cfg.Breaker.ErrorThresholdPct)
	}
	if cfg.Breaker.ResetTimeout > 0 {
		settings.ResetTimeout = cfg.Breaker.ResetTimeout
	}
	if cfg.Breaker.VolumeThreshold > 0 {
		settings.VolumeThreshold = cfg.Breaker.VolumeThreshold
	}
	paymentBr := registry.GetOrCreate(settings, observ.BreakerObserver{})

	// payment plumbing
	top := queue.Topology{
		Exchange:   cfg.Rabbit.Exchange,
		RoutingKey: cfg.Rabbit.RoutingKey,
		Queue:      cfg.Rabbit.Queue,
	}
	if top.Exchange == "" {
		top = queue.DefaultTopology()
	}
	producer, err := queue.NewRabbitProducer(ch, top)
	if err != nil {
		return nil, nil, err
	}
	gw := gateway.NewPaymentClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)

	// use cases
	pricing := usecase.Pricing{
		Currency:                   cfg.Pricing.Currency,
		TaxRateBps:                 cfg.Pricing.TaxRateBps,
		ShippingFlatFeeCents:       cfg.Pricing.ShippingFlatFeeCents,
		FreeShippingThresholdCents: cfg.Pricing.FreeShippingThreshold,
	}
	checkoutUC := usecase.NewCheckout(txStore, idem, auditor, pricing, dbRetry, logging.New("checkout"))
	payments := usecase.NewPaymentOrchestrator(gw, producer, orderRepo, paymentBr,
		auditor, statusCache, payRetry, logging.New("payment"))
	cancelUC := usecase.NewCancelOrder(txStore.CancelStore(), auditor, statusCache, dbRetry, logging.New("cancel"))
	statusUC := usecase.NewUpdateOrderStatus(orderRepo, auditor, statusCache, logging.New("status"))
	statsUC := usecase.NewRetentionStatsQuery(statsRepo, registry)

	// queued payment consumer
	if err := setupQueue(ch, top, payments); err != nil {
		return nil, nil, err
	}

	// kafka settlement consumer
	kafkaCtx, kafkaStop := context.WithCancel(context.Background())
	if err := setupKafkaListener(kafkaCtx, cfg, orderRepo, statusCache, auditor); err != nil {
		kafkaStop()
		return nil, nil, err
	}

	// retention job
	policy := retention.Policy{
		Interval:       cfg.Retention.Interval,
		StartupDelay:   cfg.Retention.StartupDelay,
		HotStorageDays: cfg.Retention.HotStorageDays,
		AnonymizeDays:  cfg.Retention.AnonymizeDays,
		SearchLogDays:  cfg.Retention.SearchLogDays,
		ArchiveBatch:   cfg.Retention.ArchiveBatch,
	}
	scheduler := retention.NewScheduler(retStore, idem, sealer, auditor, policy, logging.New("retention"))
	scheduler.OnSummary(observ.RetentionSummary)
	retCtx, retStop := context.WithCancel(context.Background())
	go scheduler.Run(retCtx)

	// handlers + router + middleware
	h := http.NewOrderHandler(checkoutUC, payments, cancelUC, statusUC, statsUC, orderRepo, statusCache)
	th := http.NewTokenHandler(cfg)
	auth := middleware.NewAuthz(cfg)
	router := http.NewRouter(h, th, auth)

	cleanup := func() {
		retStop()
		kafkaStop()
		_ = ch.Close()
		_ = conn.Close()
		_ = rdb.Close()
		_ = db.Close()
	}

	return &App{Router: router}, cleanup, nil
}

func retryOverrides(p configs.RetryProfile) retry.Overrides {
	return retry.Overrides{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
	}
}

func setupQueue(ch *amqp091.Channel, top queue.Topology, payments *usecase.PaymentOrchestrator) error {
	h := queue.NewQueuedPaymentHandler(payments)

	router := queue.NewRouter(ch, queue.WithPrefetch(50))
	router.Register(top.Queue, queue.JSONHandler[usecase.QueuedPaymentMsg]{HandleFunc: h.HandleQueued})

	return router.Start()
}

func setupKafkaListener(ctx context.Context, cfg configs.Config, orders *repo.MySQLOrderRepo,
	statusCache *cache.RedisCache, auditor *audit.Logger) error {
	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.Group)
	if err != nil {
		return err
	}

	h := kafka.NewSettlementHandler(orders, statusCache, auditor)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.TopicSettlement}, h.Handle)
	consumer.Logger = logging.New("kafka")

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logging.New("kafka").Error("consumer stopped", "err", err)
		}
	}()
	return nil
}
