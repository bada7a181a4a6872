package reconstructor

import (
	"testing"
	"time"

	"github.com/kcnex/exchange/internal/marketdata"
)

// fakeClock lets the 24h-stats window test advance time deterministically,
// mirroring internal/udptransport's fakeClock.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func snapshot(bids, asks []marketdata.PriceLevel, seq uint64) marketdata.OrderBookSnapshot {
	return marketdata.OrderBookSnapshot{Symbol: "KCN/EUR", Seq: seq, Bids: bids, Asks: asks}
}

func TestApplySnapshotSetsBestLevels(t *testing.T) {
	b := New("KCN/EUR")
	b.ApplySnapshot(snapshot(
		[]marketdata.PriceLevel{{Price: 100, Quantity: 5}, {Price: 99, Quantity: 3}},
		[]marketdata.PriceLevel{{Price: 101, Quantity: 2}},
		1,
	))

	if b.Stale() {
		t.Fatal("book should not be stale after a snapshot")
	}
	bid, ok := b.BestBid()
	if !ok || bid != 100 {
		t.Fatalf("BestBid = %v, %v; want 100, true", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask != 101 {
		t.Fatalf("BestAsk = %v, %v; want 101, true", ask, ok)
	}
}

// TestApplySnapshotDiffs is spec.md §4.9's "computing Add/Update/Remove
// diffs against the pre-replacement state" requirement on snapshot
// application: an unchanged level produces no diff, a level new to the
// snapshot produces Add, and a level absent from the new snapshot
// produces Remove.
func TestApplySnapshotDiffs(t *testing.T) {
	b := New("KCN/EUR")
	b.ApplySnapshot(snapshot(
		[]marketdata.PriceLevel{{Price: 100, Quantity: 5}, {Price: 99, Quantity: 3}},
		nil,
		1,
	))

	diffs := b.ApplySnapshot(snapshot(
		[]marketdata.PriceLevel{{Price: 100, Quantity: 5}, {Price: 98, Quantity: 2}},
		nil,
		2,
	))

	byPrice := make(map[float64]Diff, len(diffs))
	for _, d := range diffs {
		byPrice[d.Price] = d
	}
	if _, ok := byPrice[100]; ok {
		t.Fatalf("unchanged level at 100 should not produce a diff, got %+v", byPrice[100])
	}
	if d, ok := byPrice[99]; !ok || d.Kind != marketdata.DeltaRemove {
		t.Fatalf("expected Remove diff for dropped level at 99, got %+v (ok=%v)", d, ok)
	}
	if d, ok := byPrice[98]; !ok || d.Kind != marketdata.DeltaAdd || d.Quantity != 2 {
		t.Fatalf("expected Add diff for new level at 98, got %+v (ok=%v)", d, ok)
	}
}

func TestApplyDeltaAddUpdateRemove(t *testing.T) {
	b := New("KCN/EUR")
	b.ApplySnapshot(snapshot(
		[]marketdata.PriceLevel{{Price: 100, Quantity: 5}},
		nil,
		1,
	))

	diff, err := b.ApplyDelta(marketdata.OrderBookDelta{Seq: 2, Side: marketdata.SideBid, Kind: marketdata.DeltaUpdate, Price: 100, Quantity: 8})
	if err != nil {
		t.Fatalf("ApplyDelta update: %v", err)
	}
	if diff.Kind != marketdata.DeltaUpdate || diff.Price != 100 || diff.Quantity != 8 {
		t.Fatalf("diff = %+v, want update at 100 -> 8", diff)
	}
	bid, _ := b.BestBid()
	if bid != 100 {
		t.Fatalf("best bid price changed unexpectedly: %v", bid)
	}
	if got := b.Bids(0)[0].Quantity; got != 8 {
		t.Fatalf("bid quantity = %v, want 8", got)
	}

	diff, err = b.ApplyDelta(marketdata.OrderBookDelta{Seq: 3, Side: marketdata.SideBid, Kind: marketdata.DeltaAdd, Price: 99, Quantity: 1})
	if err != nil {
		t.Fatalf("ApplyDelta add: %v", err)
	}
	if diff.Kind != marketdata.DeltaAdd || diff.Price != 99 {
		t.Fatalf("diff = %+v, want add at 99", diff)
	}
	if len(b.Bids(0)) != 2 {
		t.Fatalf("expected 2 bid levels after add")
	}

	diff, err = b.ApplyDelta(marketdata.OrderBookDelta{Seq: 4, Side: marketdata.SideBid, Kind: marketdata.DeltaRemove, Price: 99})
	if err != nil {
		t.Fatalf("ApplyDelta remove: %v", err)
	}
	if diff.Kind != marketdata.DeltaRemove || diff.Price != 99 {
		t.Fatalf("diff = %+v, want remove at 99", diff)
	}
	if len(b.Bids(0)) != 1 {
		t.Fatalf("expected 1 bid level after remove")
	}
}

// TestApplyDeltaSequenceGap is spec.md §8 property 10's reconstructor
// side: a delta that does not extend the sequence by exactly one marks
// the book stale and every subsequent delta is rejected until a fresh
// snapshot arrives.
func TestApplyDeltaSequenceGap(t *testing.T) {
	b := New("KCN/EUR")
	b.ApplySnapshot(snapshot(nil, nil, 5))

	_, err := b.ApplyDelta(marketdata.OrderBookDelta{Seq: 7, Side: marketdata.SideBid, Kind: marketdata.DeltaAdd, Price: 1, Quantity: 1})
	if err != ErrSequenceGap {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if !b.Stale() {
		t.Fatal("book should be marked stale after a sequence gap")
	}

	_, err = b.ApplyDelta(marketdata.OrderBookDelta{Seq: 8, Side: marketdata.SideBid, Kind: marketdata.DeltaAdd, Price: 1, Quantity: 1})
	if err != ErrSequenceGap {
		t.Fatalf("stale book should keep rejecting deltas until resnapshotted, got %v", err)
	}

	b.ApplySnapshot(snapshot(nil, nil, 20))
	if b.Stale() {
		t.Fatal("a fresh snapshot should clear staleness")
	}
}

func TestTradeTapeBounded(t *testing.T) {
	b := New("KCN/EUR")
	for i := 0; i < defaultTapeSize+10; i++ {
		b.RecordTrade(marketdata.Fill{Price: 100, Quantity: 1, TimestampUS: int64(i)})
	}
	if got := len(b.Trades()); got != defaultTapeSize {
		t.Fatalf("trade tape length = %d, want %d", got, defaultTapeSize)
	}
	trades := b.Trades()
	if trades[len(trades)-1].TimestampUS != int64(defaultTapeSize+9) {
		t.Fatalf("trade tape did not keep the most recent entries")
	}
}

// TestStats24hWindow verifies a trade older than 24h drops out of the
// OHLCV aggregate but newer trades still reflect the full session.
func TestStats24hWindow(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	b := NewWithClock("KCN/EUR", fc)

	b.RecordTrade(marketdata.Fill{Price: 90, Quantity: 2})
	fc.now = fc.now.Add(25 * time.Hour)
	b.RecordTrade(marketdata.Fill{Price: 110, Quantity: 3})

	stats := b.Stats24h()
	if stats.Open != 110 || stats.High != 110 || stats.Low != 110 {
		t.Fatalf("stats = %+v, want the stale 90 trade pruned from the window", stats)
	}
	if stats.Volume != 3 {
		t.Fatalf("stats.Volume = %v, want 3", stats.Volume)
	}
}
