package publisher

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/orderbook"
)

type capturedMessage struct {
	msgType uint8
	payload []byte
}

func restingOrder(side orderbook.Side, price, qty string) *orderbook.Order {
	p := decimal.RequireFromString(price)
	return &orderbook.Order{
		ID:         uuid.New(),
		Symbol:     "KCN/EUR",
		Side:       side,
		Type:       orderbook.Limit,
		LimitPrice: &p,
		Quantity:   decimal.RequireFromString(qty),
		Status:     orderbook.Open,
	}
}

func TestPublisherFirstTickIsSnapshot(t *testing.T) {
	book := orderbook.NewOrderBook("KCN/EUR")
	book.PlaceLimit(restingOrder(orderbook.Bid, "100", "5"))

	var captured []capturedMessage
	pub := New("KCN/EUR", book, 10, 10, func(msgType uint8, payload []byte) error {
		captured = append(captured, capturedMessage{msgType, payload})
		return nil
	})

	if err := pub.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("got %d messages, want 1 snapshot", len(captured))
	}
	snap, err := marketdata.DecodeOrderBookSnapshot(captured[0].payload)
	if err != nil {
		t.Fatalf("DecodeOrderBookSnapshot: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 100 {
		t.Errorf("snapshot bids = %+v", snap.Bids)
	}
}

func TestPublisherDeltaCorrectness(t *testing.T) {
	book := orderbook.NewOrderBook("KCN/EUR")
	book.PlaceLimit(restingOrder(orderbook.Bid, "100", "5"))

	var captured []capturedMessage
	pub := New("KCN/EUR", book, 10, 10, func(msgType uint8, payload []byte) error {
		captured = append(captured, capturedMessage{msgType, payload})
		return nil
	})

	// S_i: first tick, a snapshot.
	if err := pub.Tick(); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	snapMsg, err := marketdata.DecodeOrderBookSnapshot(captured[0].payload)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	state := map[string]float64{}
	for _, l := range snapMsg.Bids {
		state[decimal.NewFromFloat(l.Price).String()] = l.Quantity
	}

	// Mutate the book: add a new level and change the existing one.
	book.PlaceLimit(restingOrder(orderbook.Bid, "99", "3"))
	book.PlaceLimit(restingOrder(orderbook.Bid, "100", "2"))

	captured = nil
	if err := pub.Tick(); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}

	// Apply each emitted delta to `state` (S_i) and confirm it matches
	// S_{i+1}, the book's actual new top-K, per testable property #10.
	for _, m := range captured {
		d, err := marketdata.DecodeOrderBookDelta(m.payload)
		if err != nil {
			t.Fatalf("DecodeOrderBookDelta: %v", err)
		}
		key := decimal.NewFromFloat(d.Price).String()
		switch d.Kind {
		case marketdata.DeltaAdd, marketdata.DeltaUpdate:
			state[key] = d.Quantity
		case marketdata.DeltaRemove:
			delete(state, key)
		}
	}

	wantBids := book.GetBidLevels()
	if len(state) != len(wantBids) {
		t.Fatalf("reconstructed state has %d levels, want %d", len(state), len(wantBids))
	}
	for _, l := range wantBids {
		got, ok := state[l.Price.String()]
		if !ok {
			t.Fatalf("reconstructed state missing price %s", l.Price)
		}
		if !decimal.NewFromFloat(got).Equal(l.Quantity) {
			t.Errorf("price %s: reconstructed qty %v, want %s", l.Price, got, l.Quantity)
		}
	}
}

func TestPublisherEmitsSnapshotEveryN(t *testing.T) {
	book := orderbook.NewOrderBook("KCN/EUR")
	book.PlaceLimit(restingOrder(orderbook.Bid, "100", "5"))

	var types []uint8
	pub := New("KCN/EUR", book, 10, 2, func(msgType uint8, payload []byte) error {
		types = append(types, msgType)
		return nil
	})

	pub.Tick() // snapshot (first tick)
	book.PlaceLimit(restingOrder(orderbook.Bid, "99", "1"))
	pub.Tick() // delta (1 since snapshot)
	book.PlaceLimit(restingOrder(orderbook.Bid, "98", "1"))
	pub.Tick() // snapshot again (sinceSnapshot reached N=2)

	if types[0] != mdVariantBookSnapshot {
		t.Errorf("tick 1 = %d, want snapshot", types[0])
	}
	if types[len(types)-1] != mdVariantBookSnapshot {
		t.Errorf("last tick type = %d, want snapshot (every N=2 updates)", types[len(types)-1])
	}
}
