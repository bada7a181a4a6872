// Package marketdata implements the schema-driven binary payloads
// carried inside wire messages: market events (Fill, OrderBookSnapshot,
// OrderBookDelta, OrderCancelled, OrderFilled) and order commands
// (OrderNew, OrderCancel, OrderReplace).
//
// spec.md §4.1 names FlatBuffers as the reference encoding for these
// payloads; no FlatBuffers Go runtime is available in this module's
// dependency set (see DESIGN.md), so a small hand-rolled tag+field
// binary format is used instead, in the same little-endian style as
// internal/wire.
package marketdata

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Variant tags identify the payload kind, analogous to a FlatBuffers
// union discriminant.
type Variant uint8

const (
	VariantFill             Variant = 1
	VariantOrderBookSnapshot Variant = 2
	VariantOrderBookDelta    Variant = 3
	VariantOrderCancelled    Variant = 4
	VariantOrderFilled       Variant = 5
	VariantOrderNew          Variant = 6
	VariantOrderCancel       Variant = 7
	VariantOrderReplace      Variant = 8
)

// encoder appends little-endian fields to a growing byte slice.
type encoder struct {
	buf []byte
}

func newEncoder(variant Variant) *encoder {
	return &encoder{buf: []byte{byte(variant)}}
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }
func (e *encoder) id128(id ID128) {
	e.u64(id.Hi)
	e.u64(id.Lo)
}
func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}
func (e *encoder) bytes() []byte { return e.buf }

// decoder reads little-endian fields from a fixed buffer, tracking a
// read cursor and failing closed on underrun.
type decoder struct {
	buf []byte
	off int
}

// PeekVariant reads a payload's leading discriminant byte without
// otherwise decoding it, so a dispatcher (the gateway's UDP event
// relay) can route to the right Decode* function.
func PeekVariant(buf []byte) (Variant, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("marketdata: %w: empty payload", ErrTruncated)
	}
	return Variant(buf[0]), nil
}

func newDecoder(buf []byte, want Variant) (*decoder, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("marketdata: %w: empty payload", ErrTruncated)
	}
	got := Variant(buf[0])
	if got != want {
		return nil, fmt.Errorf("marketdata: %w: got variant %d, want %d", ErrWrongVariant, got, want)
	}
	return &decoder{buf: buf, off: 1}, nil
}

func (d *decoder) need(n int) error {
	if d.off+n > len(d.buf) {
		return fmt.Errorf("marketdata: %w: need %d bytes at offset %d, have %d", ErrTruncated, n, d.off, len(d.buf))
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) f64() (float64, error) {
	v, err := d.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (d *decoder) id128() (ID128, error) {
	hi, err := d.u64()
	if err != nil {
		return ID128{}, err
	}
	lo, err := d.u64()
	if err != nil {
		return ID128{}, err
	}
	return ID128{Hi: hi, Lo: lo}, nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}
