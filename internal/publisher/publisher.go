// Package publisher computes orderbook level deltas against the
// previously published state, injects periodic full snapshots, and
// assigns a monotonic book sequence number, per spec.md §4.5.
package publisher

import (
	"github.com/shopspring/decimal"

	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/orderbook"
)

// LevelSnapshot is a JSON/Pebble-friendly (price, quantity) pair; a
// decimal's exact textual form survives a restart, unlike a float.
type LevelSnapshot struct {
	Price    string
	Quantity string
}

// LastState is the publisher's last-emitted top-K, mirrored to a
// crash-recovery cache. Nothing reads it back on start: a new
// Publisher always begins with a full snapshot.
type LastState struct {
	Seq  uint64
	Bids []LevelSnapshot
	Asks []LevelSnapshot
}

// StateSink optionally mirrors LastState after every emitted message.
// Read-through only: the in-memory prevBids/prevAsks maps remain
// authoritative for the running process.
type StateSink interface {
	SavePublisherState(symbol string, state LastState) error
}

// Emitter sends an encoded market-event payload of the given wire
// message type, e.g. via internal/udptransport.Sender.Send.
type Emitter func(msgType uint8, payload []byte) error

// Publisher drives one symbol's periodic publish tick.
type Publisher struct {
	Symbol        string
	Book          *orderbook.OrderBook
	TopK          int
	SnapshotEvery int

	emit func(msgType uint8, payload []byte) error
	sink StateSink

	seq             uint64
	sinceSnapshot   int
	prevBids        map[string]decimal.Decimal
	prevAsks        map[string]decimal.Decimal
}

// New constructs a Publisher. snapshotEvery matches spec.md §4.5's
// N=10 reference default.
func New(symbol string, book *orderbook.OrderBook, topK, snapshotEvery int, emit Emitter) *Publisher {
	return &Publisher{
		Symbol:        symbol,
		Book:          book,
		TopK:          topK,
		SnapshotEvery: snapshotEvery,
		emit:          emit,
		prevBids:      make(map[string]decimal.Decimal),
		prevAsks:      make(map[string]decimal.Decimal),
		// sinceSnapshot starts at SnapshotEvery so the very first tick
		// always emits a full snapshot.
		sinceSnapshot: snapshotEvery,
	}
}

// WithPersistence attaches a crash-recovery sink.
func (p *Publisher) WithPersistence(sink StateSink) { p.sink = sink }

// ResetState forces the next Tick to emit a full snapshot, per
// spec.md §4.5's "or whenever internal state has been reset".
func (p *Publisher) ResetState() {
	p.sinceSnapshot = p.SnapshotEvery
	p.prevBids = make(map[string]decimal.Decimal)
	p.prevAsks = make(map[string]decimal.Decimal)
}

// Tick computes the current top-K and emits either a snapshot or a
// set of deltas, per spec.md §4.5's policy.
func (p *Publisher) Tick() error {
	bids := p.Book.GetBids(p.TopK)
	asks := p.Book.GetAsks(p.TopK)

	if p.sinceSnapshot+1 >= p.SnapshotEvery {
		return p.emitSnapshot(bids, asks)
	}
	return p.emitDeltas(bids, asks)
}

func (p *Publisher) emitSnapshot(bids, asks []orderbook.LevelView) error {
	p.seq++
	snap := marketdata.OrderBookSnapshot{
		Symbol: p.Symbol,
		Seq:    p.seq,
		Bids:   toPriceLevels(bids),
		Asks:   toPriceLevels(asks),
	}
	if err := p.emit(uint8(mdVariantBookSnapshot), snap.Encode()); err != nil {
		return err
	}
	p.prevBids = toDecimalMap(bids)
	p.prevAsks = toDecimalMap(asks)
	p.sinceSnapshot = 0
	p.persist()
	return nil
}

func (p *Publisher) emitDeltas(bids, asks []orderbook.LevelView) error {
	curBids := toDecimalMap(bids)
	curAsks := toDecimalMap(asks)

	if err := p.emitSideDeltas(marketdata.SideBid, p.prevBids, curBids); err != nil {
		return err
	}
	if err := p.emitSideDeltas(marketdata.SideAsk, p.prevAsks, curAsks); err != nil {
		return err
	}

	p.prevBids = curBids
	p.prevAsks = curAsks
	p.sinceSnapshot++
	p.persist()
	return nil
}

func (p *Publisher) emitSideDeltas(side marketdata.Side, prev, cur map[string]decimal.Decimal) error {
	for key, qty := range cur {
		prevQty, existed := prev[key]
		if !existed {
			if err := p.emitDelta(side, marketdata.DeltaAdd, key, qty); err != nil {
				return err
			}
			continue
		}
		if !prevQty.Equal(qty) {
			if err := p.emitDelta(side, marketdata.DeltaUpdate, key, qty); err != nil {
				return err
			}
		}
	}
	for key := range prev {
		if _, stillThere := cur[key]; !stillThere {
			if err := p.emitDelta(side, marketdata.DeltaRemove, key, decimal.Zero); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) emitDelta(side marketdata.Side, kind marketdata.DeltaKind, priceKey string, qty decimal.Decimal) error {
	price, _ := decimal.NewFromString(priceKey)
	p.seq++
	d := marketdata.OrderBookDelta{
		Symbol:   p.Symbol,
		Seq:      p.seq,
		Side:     side,
		Kind:     kind,
		Price:    price.InexactFloat64(),
		Quantity: qty.InexactFloat64(),
	}
	return p.emit(uint8(mdVariantBookDelta), d.Encode())
}

func (p *Publisher) persist() {
	if p.sink == nil {
		return
	}
	_ = p.sink.SavePublisherState(p.Symbol, LastState{
		Seq:  p.seq,
		Bids: toSnapshotSlice(p.prevBids),
		Asks: toSnapshotSlice(p.prevAsks),
	})
}

func toDecimalMap(levels []orderbook.LevelView) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(levels))
	for _, l := range levels {
		m[l.Price.String()] = l.Quantity
	}
	return m
}

func toPriceLevels(levels []orderbook.LevelView) []marketdata.PriceLevel {
	out := make([]marketdata.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, marketdata.PriceLevel{
			Price:    l.Price.InexactFloat64(),
			Quantity: l.Quantity.InexactFloat64(),
		})
	}
	return out
}

func toSnapshotSlice(m map[string]decimal.Decimal) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(m))
	for price, qty := range m {
		out = append(out, LevelSnapshot{Price: price, Quantity: qty.String()})
	}
	return out
}

// mdVariant* are the wire.MessageType values the publisher emits its
// output under (BookSnapshot / BookUpdate per spec.md §4.1's message
// type enum); they are not the marketdata package's variant tags.
const (
	mdVariantBookSnapshot = 0x11
	mdVariantBookDelta    = 0x12
)
