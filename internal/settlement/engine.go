package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/ledger"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/xerrors"
)

// Engine binds matched fills to ledger movements and order-state
// transitions, per spec.md §4.7.
type Engine struct {
	db      *sql.DB
	ledger  *ledger.Store
	assets  *assets.Registry
	metrics *metrics.Settlement
	log     *zap.Logger
}

// New constructs a settlement Engine over an already-open database
// connection and the ledger store that shares it.
func New(db *sql.DB, store *ledger.Store, registry *assets.Registry, m *metrics.Settlement, log *zap.Logger) *Engine {
	return &Engine{db: db, ledger: store, assets: registry, metrics: m, log: log}
}

// Settle applies spec.md §4.7's settle() algorithm: idempotency probe,
// symbol parse, deterministic-order advisory locking, ledger movements
// for each present side, fee computation, and an idempotent trade
// insert.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*Trade, error) {
	fillID := FillIdentifier(req.BuyOrderID, req.SellOrderID, req.Timestamp)

	if existing, err := e.findTradeByFillID(ctx, e.db, fillID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	pair, err := assets.ParseSymbol(req.Symbol)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Validation, err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	buyOrder, err := e.loadOrderForUpdate(ctx, tx, req.BuyOrderID)
	if err != nil {
		return nil, err
	}
	sellOrder, err := e.loadOrderForUpdate(ctx, tx, req.SellOrderID)
	if err != nil {
		return nil, err
	}
	if buyOrder == nil && sellOrder == nil {
		return nil, xerrors.New(xerrors.PartialSettlement, "neither order %s nor %s exists", req.BuyOrderID, req.SellOrderID)
	}

	quoteAmount := e.assets.Round(pair.Quote, req.Price.Mul(req.Quantity))
	// fee = round_quote(quote_amount * fee_rate), charged identically to
	// both sides per spec.md §4.7 step 8 and §8 property 11. It is
	// recorded on the trade row but never debited against the ledger:
	// neither side's lock amount provisions for it, and a ledger Fee
	// entry on top of the existing Unlock+Trade pair would go negative.
	fee := e.assets.Round(pair.Quote, quoteAmount.Mul(FeeRate))

	if err := e.acquireSettlementLocks(ctx, tx, pair, buyOrder, sellOrder); err != nil {
		return nil, err
	}

	trade := &Trade{
		ID:       uuid.New(),
		Symbol:   req.Symbol,
		Price:    req.Price,
		Quantity: req.Quantity,
		FillID:   fillID,
	}
	if buyOrder != nil {
		id := buyOrder.ID
		trade.BuyOrderID = &id
	}
	if sellOrder != nil {
		id := sellOrder.ID
		trade.SellOrderID = &id
	}

	if buyOrder != nil && buyOrder.User != nil {
		trade.Buyer = buyOrder.User
		trade.BuyerFee = fee
		if err := e.settleBuySide(ctx, tx, *buyOrder.User, pair, quoteAmount, req.Quantity, trade.ID); err != nil {
			return nil, err
		}
	}
	if buyOrder != nil {
		if err := e.addFillTx(ctx, tx, buyOrder, req.Quantity); err != nil {
			return nil, err
		}
	}

	if sellOrder != nil && sellOrder.User != nil {
		trade.Seller = sellOrder.User
		trade.SellerFee = fee
		if err := e.settleSellSide(ctx, tx, *sellOrder.User, pair, quoteAmount, req.Quantity, trade.ID); err != nil {
			return nil, err
		}
	}
	if sellOrder != nil {
		if err := e.addFillTx(ctx, tx, sellOrder, req.Quantity); err != nil {
			return nil, err
		}
	}

	if err := e.insertTrade(ctx, tx, trade); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: commit: %w", err))
	}
	return trade, nil
}

// acquireSettlementLocks takes every advisory lock this settlement
// will need, in sorted (user, base) then (user, quote) order across
// all involved users, per spec.md §4.7 step 5 — this is what makes
// concurrent settlements over overlapping users deadlock-free.
func (e *Engine) acquireSettlementLocks(ctx context.Context, tx *sql.Tx, pair assets.Pair, buyOrder, sellOrder *OrderRecord) error {
	userSet := map[uuid.UUID]struct{}{}
	if buyOrder != nil && buyOrder.User != nil {
		userSet[*buyOrder.User] = struct{}{}
	}
	if sellOrder != nil && sellOrder.User != nil {
		userSet[*sellOrder.User] = struct{}{}
	}
	users := make([]uuid.UUID, 0, len(userSet))
	for u := range userSet {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })

	for _, u := range users {
		if err := e.ledger.AcquireLock(ctx, tx, u, pair.Base); err != nil {
			return err
		}
		if err := e.ledger.AcquireLock(ctx, tx, u, pair.Quote); err != nil {
			return err
		}
	}
	return nil
}

// settleBuySide appends the buyer's three ledger entries, per
// spec.md §4.7 step 6: release the locked quote, pay it away, and
// receive the base quantity. The fee is recorded on the trade row
// only (see the comment on its computation in Settle); no Fee ledger
// entry is appended.
func (e *Engine) settleBuySide(ctx context.Context, tx *sql.Tx, buyer uuid.UUID, pair assets.Pair, quoteAmount, quantity decimal.Decimal, tradeID uuid.UUID) error {
	if _, err := e.ledger.AppendTx(ctx, tx, buyer, pair.Quote, quoteAmount, ledger.Unlock, &tradeID, nil); err != nil {
		return err
	}
	if _, err := e.ledger.AppendTx(ctx, tx, buyer, pair.Quote, quoteAmount.Neg(), ledger.Trade, &tradeID, nil); err != nil {
		return err
	}
	if _, err := e.ledger.AppendTx(ctx, tx, buyer, pair.Base, quantity, ledger.Trade, &tradeID, nil); err != nil {
		return err
	}
	return nil
}

// settleSellSide appends the seller's three ledger entries, per
// spec.md §4.7 step 7: release the locked base, pay it away, and
// receive the quote amount.
func (e *Engine) settleSellSide(ctx context.Context, tx *sql.Tx, seller uuid.UUID, pair assets.Pair, quoteAmount, quantity decimal.Decimal, tradeID uuid.UUID) error {
	if _, err := e.ledger.AppendTx(ctx, tx, seller, pair.Base, quantity, ledger.Unlock, &tradeID, nil); err != nil {
		return err
	}
	if _, err := e.ledger.AppendTx(ctx, tx, seller, pair.Base, quantity.Neg(), ledger.Trade, &tradeID, nil); err != nil {
		return err
	}
	if _, err := e.ledger.AppendTx(ctx, tx, seller, pair.Quote, quoteAmount, ledger.Trade, &tradeID, nil); err != nil {
		return err
	}
	return nil
}

// addFillTx mutates an order's filled_quantity/status in place, per
// spec.md §4.7's add_fill: a Cancelled order is frozen; otherwise
// filled_quantity accumulates toward Filled or PartiallyFilled.
func (e *Engine) addFillTx(ctx context.Context, tx *sql.Tx, order *OrderRecord, delta decimal.Decimal) error {
	if order.Status == orderbook.Cancelled {
		return nil
	}
	order.FilledQuantity = order.FilledQuantity.Add(delta)
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = orderbook.Filled
	} else {
		order.Status = orderbook.PartiallyFilled
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET filled_quantity = $1, status = $2 WHERE id = $3`,
		order.FilledQuantity, statusString(order.Status), order.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: update order %s: %w", order.ID, err))
	}
	return nil
}

// GetOrder is a read-only order lookup for callers (the accounts
// HTTP layer's cancel endpoint) that need an order's symbol/status
// without taking a row lock.
func (e *Engine) GetOrder(ctx context.Context, id uuid.UUID) (*OrderRecord, error) {
	row := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, side, order_type, limit_price, stored_price, quantity, filled_quantity, status, lock_entry_ref, created_at
		FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: get order %s: %w", id, err))
	}
	return order, nil
}

func (e *Engine) loadOrderForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*OrderRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, side, order_type, limit_price, stored_price, quantity, filled_quantity, status, lock_entry_ref, created_at
		FROM orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: load order %s: %w", id, err))
	}
	return order, nil
}

func (e *Engine) insertTrade(ctx context.Context, tx *sql.Tx, t *Trade) error {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO trades (id, symbol, buy_order, sell_order, buyer, seller, price, quantity, buyer_fee, seller_fee, fill_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fill_id) DO UPDATE SET id = trades.id
		RETURNING id, settled_at`,
		t.ID, t.Symbol, t.BuyOrderID, t.SellOrderID, t.Buyer, t.Seller, t.Price, t.Quantity, t.BuyerFee, t.SellerFee, t.FillID)
	if err := row.Scan(&t.ID, &t.SettledAt); err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: insert trade: %w", err))
	}
	return nil
}

func (e *Engine) findTradeByFillID(ctx context.Context, q querier, fillID string) (*Trade, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, symbol, buy_order, sell_order, buyer, seller, price, quantity, buyer_fee, seller_fee, fill_id, settled_at
		FROM trades WHERE fill_id = $1`, fillID)
	var t Trade
	err := row.Scan(&t.ID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID, &t.Buyer, &t.Seller, &t.Price, &t.Quantity, &t.BuyerFee, &t.SellerFee, &t.FillID, &t.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: find trade by fill_id: %w", err))
	}
	return &t, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanOrder(row *sql.Row) (*OrderRecord, error) {
	var o OrderRecord
	var side, orderType, status string
	if err := row.Scan(&o.ID, &o.User, &o.Symbol, &side, &orderType, &o.LimitPrice, &o.StoredPrice, &o.Quantity, &o.FilledQuantity, &status, &o.LockEntryRef, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Side = parseSide(side)
	o.Type = parseOrderType(orderType)
	o.Status = parseStatus(status)
	return &o, nil
}

func statusString(s orderbook.Status) string {
	switch s {
	case orderbook.Open:
		return "open"
	case orderbook.PartiallyFilled:
		return "partially_filled"
	case orderbook.Filled:
		return "filled"
	case orderbook.Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

func parseStatus(s string) orderbook.Status {
	switch s {
	case "open":
		return orderbook.Open
	case "partially_filled":
		return orderbook.PartiallyFilled
	case "filled":
		return orderbook.Filled
	case "cancelled":
		return orderbook.Cancelled
	default:
		return orderbook.Pending
	}
}

func parseSide(s string) orderbook.Side {
	if s == "ask" {
		return orderbook.Ask
	}
	return orderbook.Bid
}

func parseOrderType(s string) orderbook.Type {
	if s == "market" {
		return orderbook.Market
	}
	return orderbook.Limit
}
