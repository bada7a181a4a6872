package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/ledger"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/xerrors"
)

// LockFunds implements spec.md §4.8's order-placement procedure: it
// computes the lock amount for the requested side/type, appends a
// Lock ledger entry (failing InsufficientBalance if the user lacks
// funds), and inserts the order row referencing that lock entry —
// atomically, in one transaction.
//
// Per Open Question 1's resolution (see DESIGN.md), a market Bid
// without MaxSlippagePrice is rejected rather than falling back to a
// fabricated price.
func (e *Engine) LockFunds(ctx context.Context, req PlacementRequest) (*OrderRecord, error) {
	pair, err := assets.ParseSymbol(req.Symbol)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Validation, err)
	}
	if !req.Quantity.IsPositive() {
		return nil, xerrors.New(xerrors.Validation, "quantity must be positive, got %s", req.Quantity)
	}

	lockAsset, lockAmount, storedPrice, err := e.computeLock(pair, req)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	order := &OrderRecord{
		ID:          uuid.New(),
		User:        &req.User,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		StoredPrice: storedPrice,
		Quantity:    req.Quantity,
		Status:      orderbook.Open,
	}

	lockEntry, err := e.ledger.AppendTx(ctx, tx, req.User, lockAsset, lockAmount.Neg(), ledger.Lock, &order.ID, nil)
	if err != nil {
		return nil, err
	}
	order.LockEntryRef = &lockEntry.ID

	if err := e.insertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: commit: %w", err))
	}
	return order, nil
}

// computeLock implements the per-side lock-amount formulas of
// spec.md §4.8.
func (e *Engine) computeLock(pair assets.Pair, req PlacementRequest) (asset string, amount decimal.Decimal, storedPrice *decimal.Decimal, err error) {
	switch {
	case req.Type == orderbook.Limit:
		if req.LimitPrice == nil {
			return "", decimal.Zero, nil, xerrors.New(xerrors.Validation, "limit orders require a price")
		}
		if req.Side == orderbook.Bid {
			amt := e.assets.Round(pair.Quote, req.LimitPrice.Mul(req.Quantity))
			return pair.Quote, amt, req.LimitPrice, nil
		}
		amt := e.assets.Round(pair.Base, req.Quantity)
		return pair.Base, amt, req.LimitPrice, nil

	case req.Type == orderbook.Market && req.Side == orderbook.Bid:
		if req.MaxSlippagePrice == nil {
			return "", decimal.Zero, nil, xerrors.New(xerrors.Validation,
				"market buy orders require max_slippage_price; no fallback price is assumed (see Open Question 1)")
		}
		amt := e.assets.Round(pair.Quote, req.MaxSlippagePrice.Mul(req.Quantity))
		return pair.Quote, amt, req.MaxSlippagePrice, nil

	default: // market Ask
		amt := e.assets.Round(pair.Base, req.Quantity)
		return pair.Base, amt, nil, nil
	}
}

func (e *Engine) insertOrder(ctx context.Context, tx *sql.Tx, o *OrderRecord) error {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, symbol, side, order_type, limit_price, stored_price, quantity, filled_quantity, status, lock_entry_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
		RETURNING created_at`,
		o.ID, o.User, o.Symbol, sideString(o.Side), typeString(o.Type), o.LimitPrice, o.StoredPrice, o.Quantity, statusString(o.Status), o.LockEntryRef)
	if err := row.Scan(&o.CreatedAt); err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: insert order: %w", err))
	}
	return nil
}

// CancelInternal implements spec.md §4.7's cancel_internal: the
// market-order-tail cancellation the matching engine invokes after
// settling whatever fills a market order received, releasing any
// residual locked funds.
func (e *Engine) CancelInternal(ctx context.Context, orderID uuid.UUID, filledQuantity decimal.Decimal) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	order, err := e.loadOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return xerrors.New(xerrors.NotFound, "order %s not found", orderID)
	}
	if !cancellable(order.Status) {
		return xerrors.New(xerrors.CannotCancel, "order %s is in terminal status %s", orderID, statusString(order.Status))
	}

	pair, err := assets.ParseSymbol(order.Symbol)
	if err != nil {
		return xerrors.Wrap(xerrors.Validation, err)
	}

	residual, lockAsset, err := e.residualUnlock(pair, order, filledQuantity)
	if err != nil {
		return err
	}

	if residual.IsPositive() {
		if _, err := e.ledger.AppendTx(ctx, tx, *order.User, lockAsset, residual, ledger.Unlock, &order.ID, nil); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $1, filled_quantity = $2 WHERE id = $3`,
		statusString(orderbook.Cancelled), filledQuantity, orderID)
	if err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: cancel order %s: %w", orderID, err))
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("settlement: commit: %w", err))
	}
	return nil
}

func cancellable(s orderbook.Status) bool {
	switch s {
	case orderbook.Pending, orderbook.Open, orderbook.PartiallyFilled:
		return true
	default:
		return false
	}
}

// residualUnlock recomputes the original locked amount from the
// order's stored price and returns lock_amount * (1 -
// filled_quantity/quantity), rounded to the locked asset's precision,
// per spec.md §4.7 step 3.
func (e *Engine) residualUnlock(pair assets.Pair, order *OrderRecord, filledQuantity decimal.Decimal) (decimal.Decimal, string, error) {
	if order.User == nil {
		return decimal.Zero, "", nil
	}
	var lockAsset string
	var lockAmount decimal.Decimal
	switch order.Side {
	case orderbook.Bid:
		if order.StoredPrice == nil {
			return decimal.Zero, "", errors.New("settlement: bid order missing stored_price")
		}
		lockAsset = pair.Quote
		lockAmount = e.assets.Round(pair.Quote, order.StoredPrice.Mul(order.Quantity))
	default:
		lockAsset = pair.Base
		lockAmount = e.assets.Round(pair.Base, order.Quantity)
	}

	if order.Quantity.IsZero() {
		return decimal.Zero, lockAsset, nil
	}
	unfilledFraction := decimal.NewFromInt(1).Sub(filledQuantity.Div(order.Quantity))
	residual := e.assets.Round(lockAsset, lockAmount.Mul(unfilledFraction))
	return residual, lockAsset, nil
}

func sideString(s orderbook.Side) string {
	if s == orderbook.Ask {
		return "ask"
	}
	return "bid"
}

func typeString(t orderbook.Type) string {
	if t == orderbook.Market {
		return "market"
	}
	return "limit"
}
