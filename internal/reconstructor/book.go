// Package reconstructor maintains a client-side view of an orderbook
// from the snapshot/delta stream a publisher emits (spec.md §4.5),
// plus a bounded trade tape and rolling 24h OHLCV-style stats,
// grounded on trading_bot's GatewayClient/MarketState pattern
// (original_source/trading_bot/src/gateway_client.rs, types.rs):
// there the bot applies OrderbookSnapshot/OrderbookUpdate/Trade
// messages into a small in-memory MarketState. This package is the Go
// equivalent used by the gateway service to serve REST/WS reads
// without round-tripping to the matching engine.
package reconstructor

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kcnex/exchange/internal/clock"
	"github.com/kcnex/exchange/internal/marketdata"
)

// ErrSequenceGap is returned by ApplyDelta when the incoming delta's
// sequence number is not exactly one past the book's current
// sequence. The caller should request (or wait for) a fresh snapshot;
// the book marks itself stale until ApplySnapshot is called again.
var ErrSequenceGap = errors.New("reconstructor: sequence gap, resync required")

// Level is a single reconstructed price level.
type Level struct {
	Price    float64
	Quantity float64
}

// Diff is one price-level change to drive UI updates, per spec.md
// §4.9: ApplySnapshot computes these against the book's
// pre-replacement state, and ApplyDelta passes its incoming delta
// through in the same shape, so callers have one record type to
// publish regardless of which event produced it.
type Diff struct {
	Side     marketdata.Side
	Kind     marketdata.DeltaKind
	Price    float64
	Quantity float64
}

func diffLevels(side marketdata.Side, old, new map[float64]float64) []Diff {
	var diffs []Diff
	for price, qty := range new {
		if oldQty, ok := old[price]; !ok {
			diffs = append(diffs, Diff{Side: side, Kind: marketdata.DeltaAdd, Price: price, Quantity: qty})
		} else if oldQty != qty {
			diffs = append(diffs, Diff{Side: side, Kind: marketdata.DeltaUpdate, Price: price, Quantity: qty})
		}
	}
	for price := range old {
		if _, ok := new[price]; !ok {
			diffs = append(diffs, Diff{Side: side, Kind: marketdata.DeltaRemove, Price: price})
		}
	}
	return diffs
}

// Trade is one entry of the bounded trade tape.
type Trade struct {
	Price       float64
	Quantity    float64
	TimestampUS int64
	ReceivedAt  time.Time
}

// Stats is the rolling 24h summary derived from the trade tape's
// underlying stats window.
type Stats struct {
	Open   float64
	High   float64
	Low    float64
	Last   float64
	Volume float64
}

const (
	defaultTapeSize   = 100
	statsWindow       = 24 * time.Hour
)

// ClientBook reconstructs one symbol's book, trade tape, and 24h
// stats from the market-event stream. Safe for concurrent use: writers
// call Apply*/RecordTrade, readers call the snapshot accessors.
type ClientBook struct {
	mu    sync.RWMutex
	clock clock.Clock

	symbol string
	seq    uint64
	stale  bool

	bids map[float64]float64
	asks map[float64]float64

	tape      []Trade
	tapeSize  int
	statTrades []Trade
}

// New constructs a ClientBook using the real wall clock.
func New(symbol string) *ClientBook {
	return NewWithClock(symbol, clock.Real{})
}

// NewWithClock constructs a ClientBook with an injected clock, for
// deterministic 24h-window tests.
func NewWithClock(symbol string, c clock.Clock) *ClientBook {
	return &ClientBook{
		clock:    c,
		symbol:   symbol,
		bids:     make(map[float64]float64),
		asks:     make(map[float64]float64),
		tapeSize: defaultTapeSize,
		stale:    true,
	}
}

// Symbol returns the book's symbol.
func (b *ClientBook) Symbol() string { return b.symbol }

// Stale reports whether the book has never received a snapshot, or has
// detected a sequence gap and is waiting for one.
func (b *ClientBook) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// Seq returns the last applied sequence number.
func (b *ClientBook) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ApplySnapshot replaces both sides wholesale and clears staleness,
// mirroring trading_bot's OrderbookSnapshot handling. It returns the
// Add/Update/Remove diffs against the book's pre-replacement state,
// per spec.md §4.9, so a caller can drive UI updates without
// re-publishing the entire snapshot on every tick.
func (b *ClientBook) ApplySnapshot(s marketdata.OrderBookSnapshot) []Diff {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldBids, oldAsks := b.bids, b.asks

	b.bids = make(map[float64]float64, len(s.Bids))
	for _, l := range s.Bids {
		if l.Quantity > 0 {
			b.bids[l.Price] = l.Quantity
		}
	}
	b.asks = make(map[float64]float64, len(s.Asks))
	for _, l := range s.Asks {
		if l.Quantity > 0 {
			b.asks[l.Price] = l.Quantity
		}
	}
	b.seq = s.Seq
	b.stale = false

	diffs := diffLevels(marketdata.SideBid, oldBids, b.bids)
	diffs = append(diffs, diffLevels(marketdata.SideAsk, oldAsks, b.asks)...)
	return diffs
}

// ApplyDelta applies a single price-level change and returns it back
// as a Diff for publishing, per spec.md §4.9's "emitting the same
// diff records" requirement on delta events. It returns
// ErrSequenceGap (and marks the book stale) if the delta does not
// extend the book's sequence by exactly one, per spec.md §4.5's
// "clients detect gaps via the sequence number" requirement.
func (b *ClientBook) ApplyDelta(d marketdata.OrderBookDelta) (Diff, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		return Diff{}, ErrSequenceGap
	}
	if d.Seq != b.seq+1 {
		b.stale = true
		return Diff{}, ErrSequenceGap
	}

	side := b.bids
	if d.Side == marketdata.SideAsk {
		side = b.asks
	}
	switch d.Kind {
	case marketdata.DeltaRemove:
		delete(side, d.Price)
	default: // Add, Update
		side[d.Price] = d.Quantity
	}
	b.seq = d.Seq
	return Diff{Side: d.Side, Kind: d.Kind, Price: d.Price, Quantity: d.Quantity}, nil
}

// BestBid returns the highest bid price and whether one exists.
func (b *ClientBook) BestBid() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the lowest ask price and whether one exists.
func (b *ClientBook) BestAsk() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

func bestOf(levels map[float64]float64, highest bool) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	first := true
	var best float64
	for price := range levels {
		if first || (highest && price > best) || (!highest && price < best) {
			best = price
			first = false
		}
	}
	return best, true
}

// Bids returns up to topK bid levels sorted best-first (highest
// price first).
func (b *ClientBook) Bids(topK int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedLevels(b.bids, topK, true)
}

// Asks returns up to topK ask levels sorted best-first (lowest price
// first).
func (b *ClientBook) Asks(topK int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedLevels(b.asks, topK, false)
}

func sortedLevels(levels map[float64]float64, topK int, descending bool) []Level {
	out := make([]Level, 0, len(levels))
	for price, qty := range levels {
		out = append(out, Level{Price: price, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// RecordTrade appends a fill to the bounded trade tape and the 24h
// stats window, pruning stats entries older than statsWindow.
func (b *ClientBook) RecordTrade(f marketdata.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := Trade{
		Price:       f.Price,
		Quantity:    f.Quantity,
		TimestampUS: f.TimestampUS,
		ReceivedAt:  b.clock.Now(),
	}

	b.tape = append(b.tape, t)
	if len(b.tape) > b.tapeSize {
		b.tape = b.tape[len(b.tape)-b.tapeSize:]
	}

	b.statTrades = append(b.statTrades, t)
	b.pruneStatsLocked()
}

func (b *ClientBook) pruneStatsLocked() {
	cutoff := b.clock.Now().Add(-statsWindow)
	i := 0
	for i < len(b.statTrades) && b.statTrades[i].ReceivedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.statTrades = b.statTrades[i:]
	}
}

// Trades returns the trade tape, oldest first, most recent
// defaultTapeSize entries.
func (b *ClientBook) Trades() []Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Trade, len(b.tape))
	copy(out, b.tape)
	return out
}

// Stats24h computes the rolling 24h OHLCV summary from the stats
// window, per spec.md §4.9's expansion.
func (b *ClientBook) Stats24h() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneStatsLocked()

	var s Stats
	if len(b.statTrades) == 0 {
		return s
	}
	s.Open = b.statTrades[0].Price
	s.High = b.statTrades[0].Price
	s.Low = b.statTrades[0].Price
	for _, t := range b.statTrades {
		if t.Price > s.High {
			s.High = t.Price
		}
		if t.Price < s.Low {
			s.Low = t.Price
		}
		s.Volume += t.Quantity
		s.Last = t.Price
	}
	return s
}
