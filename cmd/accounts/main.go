// Command accounts runs the ledger/settlement service (spec.md §2,
// SPEC_FULL.md's "three deployable services"). It owns the PostgreSQL-
// backed ledger and balance cache, the settlement engine the matching
// engine calls synchronously per fill, and the public order-placement
// HTTP surface.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/commandsender"
	"github.com/kcnex/exchange/internal/config"
	"github.com/kcnex/exchange/internal/httpapi"
	"github.com/kcnex/exchange/internal/ledger"
	"github.com/kcnex/exchange/internal/logging"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/settlement"
	"github.com/kcnex/exchange/internal/udptransport"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.LoadAccounts()

	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	registry := assets.NewRegistry()

	store, err := ledger.Open(cfg.DatabaseURL, registry)
	if err != nil {
		sugar.Fatalw("ledger open failed", "err", err)
	}
	if err := store.Bootstrap(context.Background(), ledger.Schema); err != nil {
		sugar.Fatalw("ledger bootstrap failed", "err", err)
	}

	settleMetrics := metrics.NewSettlement()
	ordersMetrics := metrics.NewTransport("order_commands")
	go serveMetrics(cfg.PrometheusAddr, sugar, settleMetrics.Registry, ordersMetrics.Registry)

	engine := settlement.New(store.DB(), store, registry, settleMetrics, logger)

	orderTransport, err := udptransport.NewSender(udptransport.SenderConfig{
		StreamID:      0,
		TargetAddr:    cfg.MatchingEngineUDP,
		MaxBatchDelay: 100 * time.Microsecond,
		QueueCapacity: 1024,
	}, ordersMetrics, logger)
	if err != nil {
		sugar.Fatalw("order sender dial failed", "err", err)
	}
	defer orderTransport.Close()
	go orderTransport.Run()

	sender := commandsender.New(orderTransport)

	server := httpapi.NewAccountsServer(engine, store, sender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("accounts_starting",
		"bind_addr", cfg.BindAddr,
		"matching_engine_udp", cfg.MatchingEngineUDP,
		"database_url", cfg.DatabaseURL)

	go func() {
		if err := http.ListenAndServe(cfg.BindAddr, server.Handler()); err != nil {
			sugar.Fatalw("accounts http server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("accounts_shutting_down")
}

func newLogger(logFile string) (*zap.Logger, error) {
	if logFile != "" {
		return logging.NewWithFile(logFile)
	}
	return logging.New()
}

func serveMetrics(addr string, sugar *zap.SugaredLogger, regs ...prometheus.Gatherer) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers(regs), promhttp.HandlerOpts{}))
	sugar.Infow("metrics_listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		sugar.Errorw("metrics server stopped", "err", err)
	}
}
