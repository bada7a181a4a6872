// Package orderbook implements the in-memory limit order book: price-
// indexed sorted maps of FIFO queues, matching by strict price-time
// priority, and an id index for cancellation.
//
// Adapted from the teacher's heap-backed int64-price book
// (pkg/app/core/orderbook), generalized to arbitrary-precision decimal
// prices and quantities per spec.md §3's "arbitrary-precision decimal"
// requirement.
package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is which side of the book an order rests on or targets.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Type distinguishes a resting limit order from an immediate-or-cancel
// market order.
type Type uint8

const (
	Limit Type = iota
	Market
)

// Status is an order's lifecycle state. Transitions are monotonic
// toward the terminal set {Filled, Cancelled}, per spec.md §3.
type Status uint8

const (
	Pending Status = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a single resting or incoming order. LimitPrice is nil for
// market orders (except the stored slippage price assigned by the
// accounts service before forwarding — see internal/settlement).
type Order struct {
	ID              uuid.UUID
	User            *uuid.UUID
	Symbol          string
	Side            Side
	Type            Type
	LimitPrice      *decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	Status          Status
	LockEntryRef    *uuid.UUID
	CreatedAt       time.Time
}

// Remaining is the order's unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill is the ephemeral outcome of matching two orders, per spec.md §3.
type Fill struct {
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Timestamp   time.Time
}

// PriceLevel is a resting price with its FIFO order queue and the
// aggregated remaining quantity across that queue.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	orders   []*Order
}

// LevelView is a read-only (price, quantity) pair returned by
// GetBidLevels/GetAskLevels/GetBids/GetAsks.
type LevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}
