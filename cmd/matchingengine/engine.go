package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/accountsclient"
	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/publisher"
	"github.com/kcnex/exchange/internal/udptransport"
	"github.com/kcnex/exchange/internal/wire"
)

// engine binds the in-memory order book to incoming UDP order
// commands, settlement calls, and outgoing market events, per
// spec.md §2's control/data flow: "UDP order command -> Matching
// Engine -> matches produce fills -> Settlement (synchronous HTTP) ->
// on success, events are emitted via UDP".
type engine struct {
	symbol   string
	book     *orderbook.OrderBook
	registry *assets.Registry
	accounts *accountsclient.Client
	events   *udptransport.Sender
	log      *zap.SugaredLogger
}

var zeroUUID uuid.UUID

// handle dispatches one received UDP message by its wire message type.
func (e *engine) handle(ctx context.Context, msg udptransport.ReceivedMessage) {
	switch msg.MsgType {
	case wire.OrderNew:
		e.handleOrderNew(ctx, msg.Payload)
	case wire.OrderCancel:
		e.handleOrderCancel(ctx, msg.Payload)
	default:
		e.log.Warnw("unhandled message type on order stream", "msg_type", msg.MsgType)
	}
}

func (e *engine) handleOrderNew(ctx context.Context, payload []byte) {
	cmd, err := marketdata.DecodeOrderNew(payload)
	if err != nil {
		e.log.Warnw("failed to decode OrderNew", "err", err)
		return
	}

	order := &orderbook.Order{
		ID:        cmd.OrderID.UUID(),
		Symbol:    cmd.Symbol,
		Side:      fromWireSide(cmd.Side),
		Type:      fromWireType(cmd.Type),
		Quantity:  decimal.NewFromFloat(cmd.Quantity),
		Status:    orderbook.Open,
		CreatedAt: time.Now(),
	}
	if u := cmd.UserID.UUID(); u != zeroUUID {
		order.User = &u
	}
	if cmd.Price != 0 {
		price := e.registry.Round(basePairQuote(cmd.Symbol), decimal.NewFromFloat(cmd.Price))
		order.LimitPrice = &price
	}

	var fills []orderbook.Fill
	var completed []*orderbook.Order
	if order.Type == orderbook.Market {
		fills, completed = e.book.PlaceMarket(order)
	} else {
		fills, completed = e.book.PlaceLimit(order)
	}

	for _, f := range fills {
		e.settle(ctx, f)
	}
	for _, o := range completed {
		e.emitOrderFilled(o)
	}

	if order.Type == orderbook.Market && order.Remaining().IsPositive() {
		// Market-order tail per spec.md §4.4/§4.7: liquidity ran out
		// before the order filled. Release the residual lock and mark
		// the order Cancelled with its partial filled_quantity.
		if err := e.accounts.CancelInternal(ctx, order.ID, order.FilledQuantity); err != nil {
			e.log.Errorw("market order tail cancel failed", "order_id", order.ID, "err", err)
		}
		e.emitOrderCancelled(order.ID, order.FilledQuantity)
	}
}

func (e *engine) handleOrderCancel(ctx context.Context, payload []byte) {
	cmd, err := marketdata.DecodeOrderCancel(payload)
	if err != nil {
		e.log.Warnw("failed to decode OrderCancel", "err", err)
		return
	}
	id := cmd.OrderID.UUID()

	order, ok := e.book.GetOrder(id)
	if !ok {
		e.log.Debugw("cancel requested for unknown or already-resolved order", "order_id", id)
		return
	}
	if !e.book.Cancel(id) {
		return
	}

	if err := e.accounts.CancelInternal(ctx, id, order.FilledQuantity); err != nil {
		e.log.Errorw("cancel unlock failed", "order_id", id, "err", err)
	}
	e.emitOrderCancelled(id, order.FilledQuantity)
}

// settle binds one matched fill to the accounts service's synchronous
// settlement call, per spec.md §4.7. A terminal failure after the
// book has already mutated is logged as a critical inconsistency per
// spec.md §9's Open Question 2: rollback is available
// (orderbook.RestoreOrder) but intentionally not invoked, since
// rolling back after a resting maker has been touched would violate
// time priority for orders received afterward.
func (e *engine) settle(ctx context.Context, f orderbook.Fill) {
	if _, err := e.accounts.Settle(ctx, accountsclient.SettleRequest{
		Symbol:      e.symbol,
		BuyOrderID:  f.BuyOrderID,
		SellOrderID: f.SellOrderID,
		Price:       f.Price,
		Quantity:    f.Quantity,
		Timestamp:   f.Timestamp.UnixNano(),
	}); err != nil {
		e.log.Errorw("CRITICAL settlement inconsistency: book already matched but settlement failed",
			"buy_order_id", f.BuyOrderID, "sell_order_id", f.SellOrderID,
			"price", f.Price, "quantity", f.Quantity, "err", err)
		return
	}

	fillEvent := marketdata.Fill{
		BuyOrderID:  marketdata.FromUUID(f.BuyOrderID),
		SellOrderID: marketdata.FromUUID(f.SellOrderID),
		Price:       f.Price.InexactFloat64(),
		Quantity:    f.Quantity.InexactFloat64(),
		TimestampUS: f.Timestamp.UnixMicro(),
	}
	if err := e.events.Send(wire.MatchEvent, wire.FlagNone, fillEvent.Encode()); err != nil {
		e.log.Warnw("failed to publish fill event", "err", err)
	}
}

// emitOrderFilled reports a fully-matched order's terminal progress.
// Callers only ever pass orders drawn from place()'s completed slice,
// which holds exclusively orders whose Remaining() has reached zero,
// so the reported status is always Filled.
func (e *engine) emitOrderFilled(o *orderbook.Order) {
	ev := marketdata.OrderFilled{
		OrderID:        marketdata.FromUUID(o.ID),
		FilledQuantity: o.FilledQuantity.InexactFloat64(),
		Status:         uint8(orderbook.Filled),
	}
	if err := e.events.Send(wire.PositionUpdate, wire.FlagNone, ev.Encode()); err != nil {
		e.log.Warnw("failed to publish order-filled event", "err", err)
	}
}

func (e *engine) emitOrderCancelled(orderID uuid.UUID, filledQuantity decimal.Decimal) {
	ev := marketdata.OrderCancelled{
		OrderID:        marketdata.FromUUID(orderID),
		FilledQuantity: filledQuantity.InexactFloat64(),
	}
	if err := e.events.Send(wire.PositionUpdate, wire.FlagNone, ev.Encode()); err != nil {
		e.log.Warnw("failed to publish order-cancelled event", "err", err)
	}
}

// runPublishLoop ticks the publisher at a fixed 100ms interval, per
// spec.md §4.5, until ctx is cancelled.
func (e *engine) runPublishLoop(ctx context.Context, pub *publisher.Publisher) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pub.Tick(); err != nil {
				e.log.Warnw("publisher tick failed", "err", err)
			}
		}
	}
}

func fromWireSide(s marketdata.Side) orderbook.Side {
	if s == marketdata.SideAsk {
		return orderbook.Ask
	}
	return orderbook.Bid
}

func fromWireType(t marketdata.OrderType) orderbook.Type {
	if t == marketdata.OrderTypeMarket {
		return orderbook.Market
	}
	return orderbook.Limit
}

func basePairQuote(symbol string) string {
	pair, err := assets.ParseSymbol(symbol)
	if err != nil {
		return symbol
	}
	return pair.Quote
}
