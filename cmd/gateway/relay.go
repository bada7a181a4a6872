package main

import (
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/httpapi"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/reconstructor"
	"github.com/kcnex/exchange/internal/udptransport"
)

// relay applies one matching engine's market-event stream onto the
// reconstructed client book for its symbol, then fans the update out
// over the gateway's websocket hub. Events carry no symbol field of
// their own (internal/marketdata.Fill/OrderCancelled/OrderFilled), so
// the symbol is recovered from the packet's stream_id header via
// marketdata.StreamIDFor (SPEC_FULL.md §4.10).
type relay struct {
	server      *httpapi.GatewayServer
	streamIndex map[uint32]string
	books       map[string]*reconstructor.ClientBook
	log         *zap.SugaredLogger
}

func (r *relay) handle(msg udptransport.ReceivedMessage) {
	symbol, ok := r.streamIndex[msg.StreamID]
	if !ok {
		r.log.Debugw("event from unregistered stream", "stream_id", msg.StreamID)
		return
	}
	book, ok := r.books[symbol]
	if !ok {
		return
	}

	variant, err := marketdata.PeekVariant(msg.Payload)
	if err != nil {
		r.log.Warnw("failed to peek market event variant", "symbol", symbol, "err", err)
		return
	}

	switch variant {
	case marketdata.VariantOrderBookSnapshot:
		r.applySnapshot(symbol, book, msg.Payload)
	case marketdata.VariantOrderBookDelta:
		r.applyDelta(symbol, book, msg.Payload)
	case marketdata.VariantFill:
		r.applyFill(symbol, book, msg.Payload)
	case marketdata.VariantOrderCancelled, marketdata.VariantOrderFilled:
		// Order-lifecycle events are consumed by the accounts service's
		// own bookkeeping; the gateway's reconstructed view only needs
		// book and trade-tape state.
	default:
		r.log.Debugw("unhandled market event variant", "symbol", symbol, "variant", variant)
	}
}

func (r *relay) applySnapshot(symbol string, book *reconstructor.ClientBook, payload []byte) {
	snap, err := marketdata.DecodeOrderBookSnapshot(payload)
	if err != nil {
		r.log.Warnw("failed to decode snapshot", "symbol", symbol, "err", err)
		return
	}
	diffs := book.ApplySnapshot(snap)
	if len(diffs) == 0 {
		return
	}
	r.server.Hub().BroadcastToChannel("orderbook:"+symbol, httpapi.NewOrderbookDiffMessage(symbol, book.Seq(), diffs))
}

func (r *relay) applyDelta(symbol string, book *reconstructor.ClientBook, payload []byte) {
	delta, err := marketdata.DecodeOrderBookDelta(payload)
	if err != nil {
		r.log.Warnw("failed to decode delta", "symbol", symbol, "err", err)
		return
	}
	diff, err := book.ApplyDelta(delta)
	if err != nil {
		r.log.Debugw("sequence gap on delta, awaiting resync", "symbol", symbol, "err", err)
		return
	}
	r.server.Hub().BroadcastToChannel("orderbook:"+symbol, httpapi.NewOrderbookDiffMessage(symbol, book.Seq(), []reconstructor.Diff{diff}))
}

func (r *relay) applyFill(symbol string, book *reconstructor.ClientBook, payload []byte) {
	fill, err := marketdata.DecodeFill(payload)
	if err != nil {
		r.log.Warnw("failed to decode fill", "symbol", symbol, "err", err)
		return
	}
	book.RecordTrade(fill)
	r.server.Hub().BroadcastToChannel("trades:"+symbol, httpapi.TradeInfo{
		Price:       fill.Price,
		Quantity:    fill.Quantity,
		TimestampUS: fill.TimestampUS,
	})

	stats := book.Stats24h()
	r.server.Hub().BroadcastToChannel("stats:"+symbol, httpapi.StatsResponse{
		Symbol: symbol,
		Open:   stats.Open,
		High:   stats.High,
		Low:    stats.Low,
		Volume: stats.Volume,
		Last:   stats.Last,
	})
}

