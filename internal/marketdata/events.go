package marketdata

// Side mirrors internal/orderbook's Bid/Ask side, duplicated here so
// this package has no dependency on the matching engine's types.
type Side uint8

const (
	SideBid Side = 0
	SideAsk Side = 1
)

// DeltaKind enumerates the publisher's per-price-level delta op, per
// spec.md §4.5.
type DeltaKind uint8

const (
	DeltaAdd    DeltaKind = 0
	DeltaUpdate DeltaKind = 1
	DeltaRemove DeltaKind = 2
)

// Fill is the market-event broadcast of a completed match. Price and
// quantity are f64 on this wire per spec.md §4.1 — precise decimal
// arithmetic stays inside matching/ledger and never crosses this
// boundary.
type Fill struct {
	BuyOrderID  ID128
	SellOrderID ID128
	Price       float64
	Quantity    float64
	TimestampUS int64
}

func (f Fill) Encode() []byte {
	e := newEncoder(VariantFill)
	e.id128(f.BuyOrderID)
	e.id128(f.SellOrderID)
	e.f64(f.Price)
	e.f64(f.Quantity)
	e.i64(f.TimestampUS)
	return e.bytes()
}

func DecodeFill(buf []byte) (Fill, error) {
	d, err := newDecoder(buf, VariantFill)
	if err != nil {
		return Fill{}, err
	}
	var f Fill
	if f.BuyOrderID, err = d.id128(); err != nil {
		return Fill{}, err
	}
	if f.SellOrderID, err = d.id128(); err != nil {
		return Fill{}, err
	}
	if f.Price, err = d.f64(); err != nil {
		return Fill{}, err
	}
	if f.Quantity, err = d.f64(); err != nil {
		return Fill{}, err
	}
	if f.TimestampUS, err = d.i64(); err != nil {
		return Fill{}, err
	}
	return f, nil
}

// PriceLevel is a single (price, quantity) pair within a snapshot.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBookSnapshot is a full top-K replacement of both sides, per
// spec.md §4.5's "emit a snapshot every N updates" policy.
type OrderBookSnapshot struct {
	Symbol string
	Seq    uint64
	Bids   []PriceLevel
	Asks   []PriceLevel
}

func (s OrderBookSnapshot) Encode() []byte {
	e := newEncoder(VariantOrderBookSnapshot)
	e.str(s.Symbol)
	e.u64(s.Seq)
	e.u16(uint16(len(s.Bids)))
	for _, l := range s.Bids {
		e.f64(l.Price)
		e.f64(l.Quantity)
	}
	e.u16(uint16(len(s.Asks)))
	for _, l := range s.Asks {
		e.f64(l.Price)
		e.f64(l.Quantity)
	}
	return e.bytes()
}

func DecodeOrderBookSnapshot(buf []byte) (OrderBookSnapshot, error) {
	d, err := newDecoder(buf, VariantOrderBookSnapshot)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	var s OrderBookSnapshot
	if s.Symbol, err = d.str(); err != nil {
		return OrderBookSnapshot{}, err
	}
	if s.Seq, err = d.u64(); err != nil {
		return OrderBookSnapshot{}, err
	}
	s.Bids, err = decodeLevels(d)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	s.Asks, err = decodeLevels(d)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	return s, nil
}

func decodeLevels(d *decoder) ([]PriceLevel, error) {
	n, err := d.u16()
	if err != nil {
		return nil, err
	}
	levels := make([]PriceLevel, 0, n)
	for i := uint16(0); i < n; i++ {
		price, err := d.f64()
		if err != nil {
			return nil, err
		}
		qty, err := d.f64()
		if err != nil {
			return nil, err
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// OrderBookDelta is a single changed price level relative to the
// publisher's previously emitted top-K, per spec.md §4.5.
type OrderBookDelta struct {
	Symbol   string
	Seq      uint64
	Side     Side
	Kind     DeltaKind
	Price    float64
	Quantity float64
}

func (d OrderBookDelta) Encode() []byte {
	e := newEncoder(VariantOrderBookDelta)
	e.str(d.Symbol)
	e.u64(d.Seq)
	e.u8(uint8(d.Side))
	e.u8(uint8(d.Kind))
	e.f64(d.Price)
	e.f64(d.Quantity)
	return e.bytes()
}

func DecodeOrderBookDelta(buf []byte) (OrderBookDelta, error) {
	dec, err := newDecoder(buf, VariantOrderBookDelta)
	if err != nil {
		return OrderBookDelta{}, err
	}
	var out OrderBookDelta
	if out.Symbol, err = dec.str(); err != nil {
		return OrderBookDelta{}, err
	}
	if out.Seq, err = dec.u64(); err != nil {
		return OrderBookDelta{}, err
	}
	side, err := dec.u8()
	if err != nil {
		return OrderBookDelta{}, err
	}
	out.Side = Side(side)
	kind, err := dec.u8()
	if err != nil {
		return OrderBookDelta{}, err
	}
	out.Kind = DeltaKind(kind)
	if out.Price, err = dec.f64(); err != nil {
		return OrderBookDelta{}, err
	}
	if out.Quantity, err = dec.f64(); err != nil {
		return OrderBookDelta{}, err
	}
	return out, nil
}

// OrderCancelled reports a market-order tail cancellation (spec.md
// §4.4's "market-order tail") or an explicit cancel taking effect.
type OrderCancelled struct {
	OrderID         ID128
	FilledQuantity  float64
}

func (c OrderCancelled) Encode() []byte {
	e := newEncoder(VariantOrderCancelled)
	e.id128(c.OrderID)
	e.f64(c.FilledQuantity)
	return e.bytes()
}

func DecodeOrderCancelled(buf []byte) (OrderCancelled, error) {
	d, err := newDecoder(buf, VariantOrderCancelled)
	if err != nil {
		return OrderCancelled{}, err
	}
	var c OrderCancelled
	if c.OrderID, err = d.id128(); err != nil {
		return OrderCancelled{}, err
	}
	if c.FilledQuantity, err = d.f64(); err != nil {
		return OrderCancelled{}, err
	}
	return c, nil
}

// OrderFilled reports an order's cumulative fill progress and the
// resulting status, mirroring add_fill's effect (spec.md §4.7).
type OrderFilled struct {
	OrderID        ID128
	FilledQuantity float64
	Status         uint8
}

func (f OrderFilled) Encode() []byte {
	e := newEncoder(VariantOrderFilled)
	e.id128(f.OrderID)
	e.f64(f.FilledQuantity)
	e.u8(f.Status)
	return e.bytes()
}

func DecodeOrderFilled(buf []byte) (OrderFilled, error) {
	d, err := newDecoder(buf, VariantOrderFilled)
	if err != nil {
		return OrderFilled{}, err
	}
	var f OrderFilled
	if f.OrderID, err = d.id128(); err != nil {
		return OrderFilled{}, err
	}
	if f.FilledQuantity, err = d.f64(); err != nil {
		return OrderFilled{}, err
	}
	if f.Status, err = d.u8(); err != nil {
		return OrderFilled{}, err
	}
	return f, nil
}
