// Command gateway runs the event-relay/gateway service (spec.md §2,
// SPEC_FULL.md's "three deployable services"). It receives every
// matching engine's market-event UDP stream, reconstructs a per-symbol
// client-side order book, trade tape, and rolling stats, and republishes
// them over a REST + websocket surface.
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

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/config"
	"github.com/kcnex/exchange/internal/httpapi"
	"github.com/kcnex/exchange/internal/localcache"
	"github.com/kcnex/exchange/internal/logging"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/reconstructor"
	"github.com/kcnex/exchange/internal/udptransport"
)

func main() {
	cfg := config.LoadGateway()

	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if len(cfg.Symbols) == 0 {
		sugar.Fatal("no symbols configured (SYMBOL)")
	}

	var cache *localcache.Store
	if cfg.PebbleDataDir != "" {
		cache, err = localcache.Open(cfg.PebbleDataDir)
		if err != nil {
			sugar.Fatalw("pebble open failed", "err", err)
		}
		defer cache.Close()
	}

	eventsMetrics := metrics.NewTransport("events")
	go serveMetrics(cfg.PrometheusAddr, sugar, eventsMetrics.Registry)

	registry := assets.NewRegistry()
	server := httpapi.NewGatewayServer(registry, logger)

	streamIndex := make(map[uint32]string, len(cfg.Symbols))
	books := make(map[string]*reconstructor.ClientBook, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		books[symbol] = server.RegisterSymbol(symbol)
		streamIndex[marketdata.StreamIDFor(symbol)] = symbol
	}

	receiver, err := udptransport.NewReceiver(udptransport.ReceiverConfig{
		BindAddr:      cfg.EventReceiverBind,
		StreamID:      0,
		StreamTimeout: 0,
	}, eventsMetrics, logger)
	if err != nil {
		sugar.Fatalw("event receiver bind failed", "err", err)
	}
	defer receiver.Close()
	if cache != nil {
		receiver.WithPersistence(cache, "events:gateway")
	}

	rel := &relay{
		server:      server,
		streamIndex: streamIndex,
		books:       books,
		log:         sugar,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go receiver.Run()
	go server.Run()

	sugar.Infow("gateway_starting",
		"symbols", cfg.Symbols,
		"event_receiver_bind", cfg.EventReceiverBind,
		"bind_addr", cfg.BindAddr)

	go func() {
		if err := http.ListenAndServe(cfg.BindAddr, server.Handler()); err != nil {
			sugar.Fatalw("gateway http server stopped", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("gateway_shutting_down")
			return
		case msg := <-receiver.Messages():
			rel.handle(msg)
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
