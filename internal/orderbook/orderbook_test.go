package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func limitOrder(side Side, price, qty string) *Order {
	p := decimal.RequireFromString(price)
	return &Order{
		ID:         uuid.New(),
		Symbol:     "KCN/EUR",
		Side:       side,
		Type:       Limit,
		LimitPrice: &p,
		Quantity:   decimal.RequireFromString(qty),
		Status:     Open,
	}
}

// scenario (a): simple cross.
func TestSimpleCross(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")

	ask := limitOrder(Ask, "100", "10")
	if fills, _ := ob.PlaceLimit(ask); len(fills) != 0 {
		t.Fatalf("resting ask should not produce fills, got %d", len(fills))
	}

	bid := limitOrder(Bid, "100", "10")
	fills, completed := ob.PlaceLimit(bid)

	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
	f := fills[0]
	if !f.Price.Equal(decimal.RequireFromString("100")) || !f.Quantity.Equal(decimal.RequireFromString("10")) {
		t.Errorf("fill = %+v, want price 100 qty 10", f)
	}
	if len(completed) != 2 {
		t.Fatalf("got %d completed orders, want 2 (maker + taker)", len(completed))
	}
	if _, ok := ob.BestBid(); ok {
		t.Error("book should be empty on the bid side")
	}
	if _, ok := ob.BestAsk(); ok {
		t.Error("book should be empty on the ask side")
	}
}

// scenario (b): partial fill across levels.
func TestPartialFillAcrossLevels(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	ob.PlaceLimit(limitOrder(Ask, "100", "5"))
	ob.PlaceLimit(limitOrder(Ask, "101", "5"))
	ob.PlaceLimit(limitOrder(Ask, "102", "5"))

	taker := limitOrder(Bid, "102", "12")
	fills, _ := ob.PlaceLimit(taker)

	if len(fills) != 3 {
		t.Fatalf("got %d fills, want 3", len(fills))
	}
	wantPrices := []string{"100", "101", "102"}
	wantQtys := []string{"5", "5", "2"}
	for i, f := range fills {
		if !f.Price.Equal(decimal.RequireFromString(wantPrices[i])) {
			t.Errorf("fill %d price = %s, want %s", i, f.Price, wantPrices[i])
		}
		if !f.Quantity.Equal(decimal.RequireFromString(wantQtys[i])) {
			t.Errorf("fill %d qty = %s, want %s", i, f.Quantity, wantQtys[i])
		}
	}

	remaining := ob.QuantityAt(Ask, decimal.RequireFromString("102"))
	if !remaining.Equal(decimal.RequireFromString("3")) {
		t.Errorf("remaining ask@102 = %s, want 3", remaining)
	}
}

// scenario (c): time priority.
func TestTimePriority(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	a := limitOrder(Ask, "100", "5")
	b := limitOrder(Ask, "100", "5")
	ob.PlaceLimit(a)
	ob.PlaceLimit(b)

	firstFills, _ := ob.PlaceLimit(limitOrder(Bid, "100", "5"))
	if len(firstFills) != 1 || firstFills[0].SellOrderID != a.ID {
		t.Fatalf("first taker should match A entirely, got %+v", firstFills)
	}

	secondFills, _ := ob.PlaceLimit(limitOrder(Bid, "100", "5"))
	if len(secondFills) != 1 || secondFills[0].SellOrderID != b.ID {
		t.Fatalf("second taker should match B entirely, got %+v", secondFills)
	}
}

// scenario (g): market tail, book side only (engine-level cancel
// semantics are exercised in internal/settlement).
func TestMarketOrderNeverRests(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	ob.PlaceLimit(limitOrder(Ask, "100", "10"))

	taker := &Order{ID: uuid.New(), Symbol: "KCN/EUR", Side: Bid, Type: Market, Quantity: decimal.RequireFromString("25")}
	fills, completed := ob.PlaceMarket(taker)

	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
	if !taker.Remaining().Equal(decimal.RequireFromString("15")) {
		t.Errorf("taker remaining = %s, want 15 (market orders never rest)", taker.Remaining())
	}
	if _, ok := ob.BestBid(); ok {
		t.Error("market order must not rest on the book")
	}
	for _, c := range completed {
		if c.ID == taker.ID {
			t.Error("taker should not be reported completed; it was only partially filled")
		}
	}
}

func TestCancelRemovesOrderAndEmptyLevel(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	o := limitOrder(Bid, "100", "5")
	ob.PlaceLimit(o)

	if !ob.Cancel(o.ID) {
		t.Fatal("expected cancel to succeed")
	}
	if ob.Cancel(o.ID) {
		t.Error("second cancel of the same id should report false")
	}
	if _, ok := ob.BestBid(); ok {
		t.Error("level should be removed once empty")
	}
}

func TestBookNeverCrossesAtRest(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	ob.PlaceLimit(limitOrder(Ask, "101", "5"))
	ob.PlaceLimit(limitOrder(Bid, "99", "5"))

	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if okB && okA && !bid.LessThan(ask) {
		t.Errorf("book crossed at rest: bid=%s ask=%s", bid, ask)
	}
}

func TestGetBidsTopN(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	ob.PlaceLimit(limitOrder(Bid, "100", "1"))
	ob.PlaceLimit(limitOrder(Bid, "99", "1"))
	ob.PlaceLimit(limitOrder(Bid, "98", "1"))

	top := ob.GetBids(2)
	if len(top) != 2 {
		t.Fatalf("got %d levels, want 2", len(top))
	}
	if !top[0].Price.Equal(decimal.RequireFromString("100")) {
		t.Errorf("top[0].Price = %s, want 100", top[0].Price)
	}
	if !top[1].Price.Equal(decimal.RequireFromString("99")) {
		t.Errorf("top[1].Price = %s, want 99", top[1].Price)
	}
}

func TestGetOrderAndRestoreOrder(t *testing.T) {
	ob := NewOrderBook("KCN/EUR")
	o := limitOrder(Bid, "100", "5")
	ob.PlaceLimit(o)

	snap, ok := ob.GetOrder(o.ID)
	if !ok {
		t.Fatal("expected GetOrder to find the resting order")
	}
	ob.Cancel(o.ID)
	if _, ok := ob.BestBid(); ok {
		t.Fatal("expected book to be empty after cancel")
	}

	ob.RestoreOrder(snap)
	if _, ok := ob.BestBid(); !ok {
		t.Error("expected RestoreOrder to re-rest the order")
	}
}
