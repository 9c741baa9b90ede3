package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/checkout"
	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/config"
	"github.com/ariefcatur/go-prepaid-orders/internal/httpx"
	"github.com/ariefcatur/go-prepaid-orders/internal/inquiry"
	"github.com/ariefcatur/go-prepaid-orders/internal/logging"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/payment"
	"github.com/ariefcatur/go-prepaid-orders/internal/postgres"
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
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 16)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clk := clock.NewSystem()
	secret := []byte(cfg.Checkout.TokenSecret)
	tx := postgres.NewTxManager(db)
	catalog := &postgres.CatalogRepo{DB: db}
	inquiries := &postgres.InquiryRepo{DB: db}
	orderRepo := &postgres.OrderRepo{DB: db}
	outbox := &postgres.JobOutbox{DB: db, Clock: clk, Producer: cfg.ServiceName}
	cache := redisx.NewStatusCache(rdb)

	inquirySvc := inquiry.NewService(inquiry.Deps{
		Tx:        tx,
		Products:  catalog,
		Offers:    catalog,
		Snapshots: inquiries,
		Inquiries: inquiries,
		Payments:  payment.NewValidator(catalog),
	}, secret, clk, logger.Named("inquiry"), m)

	checkoutSvc := checkout.NewService(checkout.Deps{
		Tx:        tx,
		Products:  catalog,
		Offers:    catalog,
		Inquiries: inquiries,
		Orders:    orderRepo,
		Jobs:      outbox,
		Cache:     cache,
	}, secret, clk, logger.Named("checkout"), m, checkout.WithPaymentWindow(cfg.Checkout.PaymentWindow))

	router := httpx.NewRouter(logger.Named("http"), reg)
	httpx.NewHandler(httpx.Deps{
		Inquiries: inquirySvc,
		Checkout:  checkoutSvc,
		Orders:    orderRepo,
		Catalog:   catalog,
		Cache:     cache,
	}, clk, logger.Named("http")).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	return srv.Shutdown(ctx2)
}
