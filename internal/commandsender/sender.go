// Package commandsender is the accounts service's outbound half of
// the order-command UDP hop: it implements internal/httpapi's
// CommandSender interface by encoding OrderNew/OrderCancel through
// internal/marketdata and handing the bytes to an
// internal/udptransport.Sender aimed at the matching engine, per
// spec.md §4.1/Open Question 4.
package commandsender

import (
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/udptransport"
	"github.com/kcnex/exchange/internal/wire"
)

// Sender forwards order commands to the single matching engine this
// accounts instance is paired with. SPEC_FULL.md's deployable services
// run one matching engine per symbol; an accounts instance targeting
// several symbols would need one Sender per matching-engine address,
// keyed by symbol, but the reference deployment targets exactly one.
type Sender struct {
	transport *udptransport.Sender
}

// New wraps an already-dialed *udptransport.Sender.
func New(transport *udptransport.Sender) *Sender {
	return &Sender{transport: transport}
}

// SendOrderNew implements internal/httpapi.CommandSender.
func (s *Sender) SendOrderNew(symbol string, cmd marketdata.OrderNew) error {
	return s.transport.Send(wire.OrderNew, wire.FlagNone, cmd.Encode())
}

// SendOrderCancel implements internal/httpapi.CommandSender.
func (s *Sender) SendOrderCancel(symbol string, cmd marketdata.OrderCancel) error {
	return s.transport.Send(wire.OrderCancel, wire.FlagNone, cmd.Encode())
}
