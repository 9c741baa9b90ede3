package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/config"
	"github.com/ariefcatur/go-prepaid-orders/internal/expiry"
	"github.com/ariefcatur/go-prepaid-orders/internal/fulfillment"
	"github.com/ariefcatur/go-prepaid-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-prepaid-orders/internal/kafka"
	"github.com/ariefcatur/go-prepaid-orders/internal/logging"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/postgres"
	"github.com/ariefcatur/go-prepaid-orders/internal/provider"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
	"github.com/ariefcatur/go-prepaid-orders/internal/redisx"
	"github.com/ariefcatur/go-prepaid-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := cfg.ServiceName + "-worker"
	shutdownTracing, err := telemetry.Init(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.Worker.Concurrency)+2)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clk := clock.NewSystem()

	tx := postgres.NewTxManager(db)
	catalog := &postgres.CatalogRepo{DB: db}
	inquiries := &postgres.InquiryRepo{DB: db}
	orderRepo := &postgres.OrderRepo{DB: db}
	outbox := &postgres.JobOutbox{DB: db, Clock: clk, Producer: service}
	cache := redisx.NewStatusCache(rdb)

	providers := provider.NewRegistry()
	if cfg.Provider.URL != "" {
		providers.Register(provider.NewHTTPClient(cfg.Provider.Name, cfg.Provider.URL, cfg.Provider.APIKey, cfg.Provider.Timeout))
	} else {
		logger.Warn("no provider configured; paid orders are acked as unsupported and left for an operator")
	}

	consumer := fulfillment.NewConsumer(fulfillment.Deps{
		Tx:        tx,
		Orders:    orderRepo,
		Snapshots: inquiries,
		Products:  catalog,
		Offers:    catalog,
		Balances:  &postgres.BalanceRepo{DB: db},
		Jobs:      outbox,
		Providers: providers,
		Locker:    redisx.NewLocker(rdb),
		Cache:     cache,
	}, clk, logger.Named("fulfillment"), m,
		fulfillment.WithLockTTL(cfg.Worker.LockTTL),
		fulfillment.WithPendingRecheck(cfg.Worker.PendingRecheck, cfg.Worker.MaxPendingChecks),
	)
	sweeper := expiry.NewSweeper(expiry.Deps{
		Tx:       tx,
		Orders:   orderRepo,
		Products: catalog,
		Cache:    cache,
	}, clk, logger.Named("expiry"), m)

	producer := kafkax.NewProducer(cfg.KafkaBrokers, service, logger.Named("kafka"))
	defer producer.Close()

	dispatcher := queue.NewDispatcher(outbox, producer, logger.Named("dispatcher"),
		queue.WithMaxAttempts(cfg.Worker.MaxAttempts),
		queue.WithBackoff(cfg.Worker.RetryBackoff, 0),
		queue.WithMetrics(m),
	)
	dispatcher.Register(orders.JobProcessOrder, consumer.HandleJob)
	dispatcher.Register(orders.JobExpireOrder, sweeper.HandleJob)

	relay := queue.NewRelay(outbox, producer, clk, logger.Named("relay"), cfg.Worker.OutboxBatch, cfg.Worker.OutboxInterval)

	topics := make([]string, 0, 2)
	for _, name := range dispatcher.Names() {
		topics = append(topics, queue.TopicFor(name))
	}
	jobs := kafkax.NewConsumer(cfg.KafkaBrokers, service, topics, cfg.Worker.Concurrency, logger.Named("consumer"))

	// metrics and health only
	admin := httpx.NewRouter(logger.Named("http"), reg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error {
		logger.Info("job consumer started", zap.Strings("topics", topics), zap.Int("workers", cfg.Worker.Concurrency))
		return jobs.Start(ctx, dispatcher.HandleMessage)
	})
	g.Go(func() error { return serve(ctx, cfg.Worker.AdminAddr, admin, logger) })
	return g.Wait()
}

func serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
