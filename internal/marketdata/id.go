package marketdata

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// ID128 is a 128-bit identifier carried on the wire as two 64-bit
// halves, per spec.md §4.1 ("Identifiers are 128-bit values carried as
// two 64-bit halves").
type ID128 struct {
	Hi uint64
	Lo uint64
}

// FromUUID splits a uuid.UUID into its big-endian hi/lo halves.
func FromUUID(u uuid.UUID) ID128 {
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(u[i])
	}
	for i := 8; i < 16; i++ {
		lo = lo<<8 | uint64(u[i])
	}
	return ID128{Hi: hi, Lo: lo}
}

// UUID reassembles the original uuid.UUID from its two halves.
func (id ID128) UUID() uuid.UUID {
	var u uuid.UUID
	for i := 7; i >= 0; i-- {
		u[i] = byte(id.Hi)
		id.Hi >>= 8
	}
	for i := 15; i >= 8; i-- {
		u[i] = byte(id.Lo)
		id.Lo >>= 8
	}
	return u
}

// Low64 implements the "low64(user_uuid)" half of the ledger's advisory
// lock key function (spec.md §4.6).
func Low64(u uuid.UUID) uint64 {
	return FromUUID(u).Lo
}

// StreamIDFor derives a packet header stream_id from a trading
// symbol, so one gateway process can relay every matching engine's
// event stream on a single UDP port and still route per-symbol
// (SPEC_FULL.md §4.10): Fill/OrderCancelled/OrderFilled payloads carry
// no symbol field of their own, so the gateway recovers it from the
// packet's stream_id instead.
func StreamIDFor(symbol string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum32()
}
