package udptransport

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/clock"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/wire"
)

// ReceivedMessage is delivered on the receiver's output channel for
// every message in every accepted packet.
type ReceivedMessage struct {
	MsgType  wire.MessageType
	Flags    wire.Flags
	Payload  []byte
	Seq      uint64
	StreamID uint32
}

// StateSink optionally mirrors StreamState transitions into a
// crash-recovery cache. It is read-through only; the in-memory state
// machine here remains authoritative for the running process.
type StateSink interface {
	SaveStreamState(streamKey string, state StreamState) error
}

// ReceiverConfig holds the receiver's tunables, per spec.md §4.3.
type ReceiverConfig struct {
	BindAddr      string
	StreamID      uint32 // 0 accepts any stream
	StreamTimeout time.Duration
	ChannelCap    int
}

// Receiver reads datagrams, parses them, filters by stream, and
// maintains the stream-health state machine described in spec.md §4.3.
type Receiver struct {
	cfg     ReceiverConfig
	conn    *net.UDPConn
	out     chan ReceivedMessage
	metrics *metrics.Transport
	log     *zap.Logger
	clock   clock.Clock
	sink    StateSink
	sinkKey string

	mu    sync.Mutex
	state StreamState

	done chan struct{}
}

// NewReceiver binds a UDP socket and returns a Receiver ready to Run.
func NewReceiver(cfg ReceiverConfig, m *metrics.Transport, log *zap.Logger) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.ChannelCap <= 0 {
		cfg.ChannelCap = 1024
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 500 * time.Millisecond
	}
	return &Receiver{
		cfg:     cfg,
		conn:    conn,
		out:     make(chan ReceivedMessage, cfg.ChannelCap),
		metrics: m,
		log:     log,
		clock:   clock.Real{},
		state:   StreamState{Status: Initializing},
		done:    make(chan struct{}),
	}, nil
}

// WithPersistence attaches a crash-recovery sink and the key under
// which this stream's state is mirrored.
func (r *Receiver) WithPersistence(sink StateSink, key string) {
	r.sink = sink
	r.sinkKey = key
}

// WithClock overrides the receiver's clock, for deterministic timeout
// tests.
func (r *Receiver) WithClock(c clock.Clock) { r.clock = c }

// Messages returns the channel messages are delivered on.
func (r *Receiver) Messages() <-chan ReceivedMessage { return r.out }

// State returns a snapshot of the current stream state.
func (r *Receiver) State() StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ClearDegraded explicitly heals a Degraded stream back to Active, per
// spec.md §4.3 ("Degraded → Active via an explicit clear").
func (r *Receiver) ClearDegraded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == Degraded {
		r.state.Status = Active
		r.persistLocked()
	}
}

// Close stops the receiver's read loop.
func (r *Receiver) Close() error {
	close(r.done)
	return r.conn.Close()
}

// Run reads datagrams until Close is called. It should be started in
// its own goroutine by the caller.
func (r *Receiver) Run() {
	go r.timeoutLoop()

	buf := make([]byte, wire.MaxMTU)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if r.metrics != nil {
				r.metrics.ReceiveErrors.Inc()
			}
			continue
		}
		r.handleDatagram(buf[:n])
	}
}

func (r *Receiver) timeoutLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.checkTimeout(r.clock.Now())
		}
	}
}

func (r *Receiver) checkTimeout(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == Down || r.state.Status == Initializing {
		return
	}
	if r.state.LastPacketAt.IsZero() {
		return
	}
	if now.Sub(r.state.LastPacketAt) >= r.cfg.StreamTimeout {
		r.state.Status = Down
		r.persistLocked()
	}
}

func (r *Receiver) handleDatagram(buf []byte) {
	pkt, err := wire.ParsePacket(buf)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReceiveErrors.Inc()
		}
		if r.log != nil {
			r.log.Warn("dropping malformed packet", zap.Error(err))
		}
		return
	}
	if r.cfg.StreamID != 0 && pkt.Header.StreamID != r.cfg.StreamID {
		return
	}

	now := r.clock.Now()

	r.mu.Lock()
	if r.state.Status == Down {
		r.state.Status = Active
	}
	if r.state.Status == Initializing {
		r.state.ExpectedPacketSeq = pkt.Header.PacketSeq
		r.state.ExpectedMsgSeq = pkt.Header.FirstMsgSeq
		r.state.Status = Active
	}

	switch {
	case pkt.Header.PacketSeq < r.state.ExpectedPacketSeq:
		r.state.Duplicates++
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.Duplicates.Inc()
		}
		return
	case pkt.Header.PacketSeq > r.state.ExpectedPacketSeq:
		gapSize := pkt.Header.FirstMsgSeq - r.state.ExpectedMsgSeq
		r.state.GapLog = append(r.state.GapLog, GapInfo{
			ExpectedPacketSeq: r.state.ExpectedPacketSeq,
			ReceivedPacketSeq: pkt.Header.PacketSeq,
			GapSize:           gapSize,
			DetectedAt:        now,
		})
		r.state.Status = Degraded
		if r.metrics != nil {
			r.metrics.Gaps.Inc()
		}
	}

	r.state.ExpectedPacketSeq = pkt.Header.PacketSeq + 1
	r.state.ExpectedMsgSeq = pkt.Header.FirstMsgSeq + uint64(pkt.Header.MsgCount)
	r.state.LastPacketAt = now
	r.persistLocked()
	r.mu.Unlock()

	for _, m := range pkt.Messages {
		rm := ReceivedMessage{
			MsgType:  m.Type,
			Flags:    m.Flags,
			Payload:  m.Payload,
			Seq:      m.Seq,
			StreamID: pkt.Header.StreamID,
		}
		select {
		case r.out <- rm:
		default:
			if r.metrics != nil {
				r.metrics.ReceiveErrors.Inc()
			}
		}
	}
}

// persistLocked mirrors state to the configured sink. Callers must
// hold r.mu.
func (r *Receiver) persistLocked() {
	if r.sink == nil {
		return
	}
	if err := r.sink.SaveStreamState(r.sinkKey, r.state); err != nil && r.log != nil {
		r.log.Warn("failed to persist stream state", zap.Error(err))
	}
}
