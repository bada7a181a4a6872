// Package settlement implements the settlement engine of spec.md §4.7
// and the fund-locking procedure of §4.8: binding a matched fill to
// two users' ledger movements (or one, if anonymous), at-most-once via
// a fill identifier, deterministic lock ordering, fee computation, and
// partial-fill accounting on orders.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kcnex/exchange/internal/orderbook"
)

// FeeRate is the process-wide flat taker/maker fee rate per spec.md
// §4.7 ("fee_rate = 0.001"). A tiered-fee extension point is
// acknowledged but out of scope per spec.md §9.
var FeeRate = decimal.NewFromFloat(0.001)

// OrderRecord is the persistent row backing an Order entity (spec.md
// §3), as seen by the accounts service. Side/Type/Status reuse
// internal/orderbook's enums since they describe the identical
// lifecycle concept; settlement never imports orderbook's matching
// engine, only these value types.
type OrderRecord struct {
	ID             uuid.UUID
	User           *uuid.UUID
	Symbol         string
	Side           orderbook.Side
	Type           orderbook.Type
	LimitPrice     *decimal.Decimal
	StoredPrice    *decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         orderbook.Status
	LockEntryRef   *uuid.UUID
	CreatedAt      time.Time
}

// Remaining is the order's unfilled quantity.
func (o *OrderRecord) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is the immutable settlement record inserted for a matched
// fill, per spec.md §3. BuyerFee and SellerFee are always equal,
// both denominated in the pair's quote asset per spec.md §4.7 step 8
// and §8 property 11; neither is debited against the ledger, only
// recorded on this row (see DESIGN.md).
type Trade struct {
	ID          uuid.UUID
	Symbol      string
	BuyOrderID  *uuid.UUID
	SellOrderID *uuid.UUID
	Buyer       *uuid.UUID
	Seller      *uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	BuyerFee    decimal.Decimal
	SellerFee   decimal.Decimal
	FillID      string
	SettledAt   time.Time
}

// SettleRequest is the input to Settle, mirroring the
// POST /internal/settle request body of spec.md §6.
type SettleRequest struct {
	Symbol      string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Timestamp   time.Time
}

// FillIdentifier derives the deterministic fill_id described in
// spec.md §4.7: format(buy_order_id, sell_order_id, timestamp). The
// trades table's unique index on this value is what makes settlement
// at-most-once.
func FillIdentifier(buyOrderID, sellOrderID uuid.UUID, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", buyOrderID, sellOrderID, ts.UnixNano())
}

// PlacementRequest is the input to LockFunds, corresponding to the
// order-placement procedure of spec.md §4.8.
type PlacementRequest struct {
	User             uuid.UUID
	Symbol           string
	Side             orderbook.Side
	Type             orderbook.Type
	LimitPrice       *decimal.Decimal
	MaxSlippagePrice *decimal.Decimal
	Quantity         decimal.Decimal
}
