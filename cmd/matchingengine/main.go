// Command matchingengine runs one instance of the core matching
// engine per trading symbol (spec.md §2, SPEC_FULL.md's "three
// deployable services"). It owns the in-memory order book, runs the
// UDP order receiver and UDP event sender, and calls the accounts
// service's internal settlement/cancel endpoints synchronously per
// fill.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/accountsclient"
	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/config"
	"github.com/kcnex/exchange/internal/localcache"
	"github.com/kcnex/exchange/internal/logging"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/publisher"
	"github.com/kcnex/exchange/internal/udptransport"
	"github.com/kcnex/exchange/internal/wire"
)

func main() {
	cfg := config.LoadMatching()

	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if _, err := assets.ParseSymbol(cfg.Symbol); err != nil {
		sugar.Fatalw("invalid SYMBOL", "symbol", cfg.Symbol, "err", err)
	}

	ordersMetrics := metrics.NewTransport("orders")
	eventsMetrics := metrics.NewTransport("events")
	settleMetrics := metrics.NewSettlement()
	go serveMetrics(cfg.PrometheusAddr, sugar, ordersMetrics.Registry, eventsMetrics.Registry, settleMetrics.Registry)

	var cache *localcache.Store
	if cfg.PebbleDataDir != "" {
		cache, err = localcache.Open(cfg.PebbleDataDir)
		if err != nil {
			sugar.Fatalw("pebble open failed", "err", err)
		}
		defer cache.Close()
	}

	book := orderbook.NewOrderBook(cfg.Symbol)
	registry := assets.NewRegistry()

	receiver, err := udptransport.NewReceiver(udptransport.ReceiverConfig{
		BindAddr:      cfg.OrderReceiverBind,
		StreamID:      0,
		StreamTimeout: cfg.StreamTimeout,
	}, ordersMetrics, logger)
	if err != nil {
		sugar.Fatalw("order receiver bind failed", "err", err)
	}
	defer receiver.Close()
	if cache != nil {
		receiver.WithPersistence(cache, "orders:"+cfg.Symbol)
	}

	eventSender, err := udptransport.NewSender(udptransport.SenderConfig{
		StreamID:          marketdata.StreamIDFor(cfg.Symbol),
		TargetAddr:        cfg.EventSenderAddr,
		MaxBatchDelay:     cfg.MaxBatchDelay,
		QueueCapacity:     1024,
		HeartbeatsOn:      true,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, eventsMetrics, logger)
	if err != nil {
		sugar.Fatalw("event sender dial failed", "err", err)
	}
	defer eventSender.Close()

	accounts := accountsclient.New(cfg.AccountsURL, settleMetrics)

	pub := publisher.New(cfg.Symbol, book, 20, 10, func(msgType uint8, payload []byte) error {
		return eventSender.Send(wire.MessageType(msgType), 0, payload)
	})
	if cache != nil {
		pub.WithPersistence(cache)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := &engine{
		symbol:   cfg.Symbol,
		book:     book,
		registry: registry,
		accounts: accounts,
		events:   eventSender,
		log:      sugar,
	}

	go receiver.Run()
	go eventSender.Run()
	go eng.runPublishLoop(ctx, pub)

	sugar.Infow("matching_engine_starting",
		"symbol", cfg.Symbol,
		"order_receiver_bind", cfg.OrderReceiverBind,
		"event_sender_addr", cfg.EventSenderAddr,
		"accounts_url", cfg.AccountsURL)

	for {
		select {
		case <-ctx.Done():
			sugar.Info("matching_engine_shutting_down")
			return
		case msg := <-receiver.Messages():
			eng.handle(ctx, msg)
		}
	}
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
