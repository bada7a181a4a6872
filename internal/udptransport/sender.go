// Package udptransport implements the UDP sender and receiver
// described in spec.md §4.2-§4.3: batching to MTU with bounded delay,
// heartbeats during idle, monotonic sequence assignment, and a
// stream-health state machine with gap/duplicate detection.
package udptransport

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/clock"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/wire"
)

// outbound is a single message queued for the sender's worker.
type outbound struct {
	msgType wire.MessageType
	flags   wire.Flags
	payload []byte
}

// SenderConfig holds the sender's tunables, per spec.md §4.2.
type SenderConfig struct {
	StreamID         uint32
	TargetAddr       string
	MaxBatchDelay    time.Duration // typ. 100µs
	QueueCapacity    int
	HeartbeatsOn     bool
	HeartbeatInterval time.Duration
}

// Sender batches outgoing messages up to MTU and emits heartbeats
// during idle, assigning monotonically increasing packet and message
// sequence numbers.
type Sender struct {
	cfg     SenderConfig
	conn    *net.UDPConn
	queue   chan outbound
	clock   clock.Clock
	metrics *metrics.Transport
	log     *zap.Logger

	packetSeq uint64
	msgSeq    uint64
	done      chan struct{}
}

// NewSender dials the target address and returns a Sender ready to
// Run. The caller is responsible for starting Run in its own
// goroutine, matching the teacher's one-goroutine-per-duty pattern.
func NewSender(cfg SenderConfig, m *metrics.Transport, log *zap.Logger) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.TargetAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: resolve target %q: %w", cfg.TargetAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: dial %q: %w", cfg.TargetAddr, err)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	return &Sender{
		cfg:     cfg,
		conn:    conn,
		queue:   make(chan outbound, cfg.QueueCapacity),
		clock:   clock.Real{},
		metrics: m,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// WithClock overrides the sender's clock, for deterministic tests of
// batch-delay and heartbeat timing.
func (s *Sender) WithClock(c clock.Clock) { s.clock = c }

// Send enqueues a message for the next outgoing packet. It rejects
// payloads that could never fit a single message (spec.md §4.2:
// "messages exceeding the per-payload max are rejected before
// enqueue").
func (s *Sender) Send(msgType wire.MessageType, flags wire.Flags, payload []byte) error {
	if len(payload) > wire.MaxPayload {
		return fmt.Errorf("udptransport: payload of %d bytes exceeds max %d", len(payload), wire.MaxPayload)
	}
	select {
	case s.queue <- outbound{msgType: msgType, flags: flags, payload: payload}:
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
		}
		return nil
	case <-s.done:
		return fmt.Errorf("udptransport: sender closed")
	}
}

// Close signals the worker to drain and flush any queued messages and
// then close the socket. It returns without waiting for the flush.
func (s *Sender) Close() error {
	close(s.done)
	return nil
}

// Run is the sender's background worker loop. It blocks until Close
// is called.
func (s *Sender) Run() {
	builder := wire.NewBuilder(s.cfg.StreamID, s.packetSeq, s.msgSeq)
	lastSend := s.clock.Now()

	flush := func() {
		if builder.IsEmpty() {
			return
		}
		s.sendPacket(builder)
		builder = wire.NewBuilder(s.cfg.StreamID, s.packetSeq, s.msgSeq)
		lastSend = s.clock.Now()
	}

	for {
		select {
		case <-s.done:
			s.drainAndFlush(builder)
			s.conn.Close()
			return
		case msg := <-s.queue:
			if s.metrics != nil {
				s.metrics.QueueDepth.Set(float64(len(s.queue)))
			}
			if !builder.TryAddMessage(msg.msgType, msg.flags, msg.payload) {
				flush()
				if !builder.TryAddMessage(msg.msgType, msg.flags, msg.payload) {
					// A single message alone doesn't fit; Send() already
					// rejects anything larger than MaxPayload, so this
					// should be unreachable in practice.
					if s.log != nil {
						s.log.Error("message does not fit an empty packet", zap.Int("size", len(msg.payload)))
					}
					continue
				}
			}
		case <-s.clock.After(s.cfg.MaxBatchDelay):
			if !builder.IsEmpty() {
				flush()
				continue
			}
			if s.cfg.HeartbeatsOn && s.clock.Now().Sub(lastSend) >= s.cfg.HeartbeatInterval {
				s.sendHeartbeat()
				lastSend = s.clock.Now()
			}
		}
	}
}

func (s *Sender) sendPacket(b *wire.Builder) {
	count := uint64(b.MsgCount())
	datagram := b.Finish()
	if _, err := s.conn.Write(datagram); err != nil {
		if s.metrics != nil {
			s.metrics.SendErrors.Inc()
		}
		if s.log != nil {
			s.log.Warn("udp send failed", zap.Error(err))
		}
	} else if s.metrics != nil {
		s.metrics.SentPackets.Inc()
		s.metrics.SentMessages.Add(float64(count))
	}
	s.packetSeq++
	s.msgSeq += count
}

func (s *Sender) sendHeartbeat() {
	datagram := wire.HeartbeatPacket(s.cfg.StreamID, s.packetSeq, s.msgSeq)
	if _, err := s.conn.Write(datagram); err != nil {
		if s.metrics != nil {
			s.metrics.SendErrors.Inc()
		}
	} else if s.metrics != nil {
		s.metrics.Heartbeats.Inc()
	}
	s.packetSeq++ // msg_seq does not advance for heartbeats.
}

// drainAndFlush empties the queue into packets and flushes any
// remainder, per spec.md §4.2's shutdown semantics.
func (s *Sender) drainAndFlush(builder *wire.Builder) {
	for {
		select {
		case msg := <-s.queue:
			if !builder.TryAddMessage(msg.msgType, msg.flags, msg.payload) {
				s.sendPacket(builder)
				builder = wire.NewBuilder(s.cfg.StreamID, s.packetSeq, s.msgSeq)
				builder.TryAddMessage(msg.msgType, msg.flags, msg.payload)
			}
		default:
			if !builder.IsEmpty() {
				s.sendPacket(builder)
			}
			return
		}
	}
}
