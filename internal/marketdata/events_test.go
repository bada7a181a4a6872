package marketdata

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestID128RoundTrip(t *testing.T) {
	u := uuid.New()
	id := FromUUID(u)
	if got := id.UUID(); got != u {
		t.Errorf("UUID round trip = %s, want %s", got, u)
	}
}

func TestFillRoundTrip(t *testing.T) {
	f := Fill{
		BuyOrderID:  FromUUID(uuid.New()),
		SellOrderID: FromUUID(uuid.New()),
		Price:       100.5,
		Quantity:    10,
		TimestampUS: 1234567890,
	}
	got, err := DecodeFill(f.Encode())
	if err != nil {
		t.Fatalf("DecodeFill: %v", err)
	}
	if got != f {
		t.Errorf("got %+v, want %+v", got, f)
	}
}

func TestOrderBookSnapshotRoundTrip(t *testing.T) {
	s := OrderBookSnapshot{
		Symbol: "KCN/EUR",
		Seq:    7,
		Bids:   []PriceLevel{{Price: 100, Quantity: 5}, {Price: 99, Quantity: 3}},
		Asks:   []PriceLevel{{Price: 101, Quantity: 2}},
	}
	got, err := DecodeOrderBookSnapshot(s.Encode())
	if err != nil {
		t.Fatalf("DecodeOrderBookSnapshot: %v", err)
	}
	if got.Symbol != s.Symbol || got.Seq != s.Seq || len(got.Bids) != 2 || len(got.Asks) != 1 {
		t.Errorf("got %+v, want %+v", got, s)
	}
	if got.Bids[0] != s.Bids[0] || got.Asks[0] != s.Asks[0] {
		t.Errorf("level mismatch: %+v", got)
	}
}

func TestOrderBookDeltaRoundTrip(t *testing.T) {
	d := OrderBookDelta{Symbol: "KCN/EUR", Seq: 12, Side: SideAsk, Kind: DeltaRemove, Price: 101, Quantity: 0}
	got, err := DecodeOrderBookDelta(d.Encode())
	if err != nil {
		t.Fatalf("DecodeOrderBookDelta: %v", err)
	}
	if got != d {
		t.Errorf("got %+v, want %+v", got, d)
	}
}

func TestOrderCancelledRoundTrip(t *testing.T) {
	c := OrderCancelled{OrderID: FromUUID(uuid.New()), FilledQuantity: 10}
	got, err := DecodeOrderCancelled(c.Encode())
	if err != nil {
		t.Fatalf("DecodeOrderCancelled: %v", err)
	}
	if got != c {
		t.Errorf("got %+v, want %+v", got, c)
	}
}

func TestOrderNewRoundTrip(t *testing.T) {
	o := OrderNew{
		OrderID:  FromUUID(uuid.New()),
		UserID:   FromUUID(uuid.New()),
		Symbol:   "KCN/EUR",
		Side:     SideBid,
		Type:     OrderTypeLimit,
		Price:    100,
		Quantity: 10,
	}
	got, err := DecodeOrderNew(o.Encode())
	if err != nil {
		t.Fatalf("DecodeOrderNew: %v", err)
	}
	if got != o {
		t.Errorf("got %+v, want %+v", got, o)
	}
}

func TestDecodeWrongVariant(t *testing.T) {
	c := OrderCancel{OrderID: FromUUID(uuid.New()), Symbol: "KCN/EUR"}
	_, err := DecodeFill(c.Encode())
	if !errors.Is(err, ErrWrongVariant) {
		t.Errorf("got %v, want ErrWrongVariant", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	c := OrderCancel{OrderID: FromUUID(uuid.New()), Symbol: "KCN/EUR"}
	buf := c.Encode()
	_, err := DecodeOrderCancel(buf[:len(buf)-2])
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("got %v, want ErrTruncated", err)
	}
}
