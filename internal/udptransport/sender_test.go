package udptransport

import (
	"net"
	"testing"
	"time"

	"github.com/kcnex/exchange/internal/wire"
)

// scenario (h): with a very long max_batch_delay, sending 100 small
// messages and then shutting down must drain the queue into packets
// at the MTU boundary, carrying contiguous msg_seq — exercised here via
// the shutdown drain path rather than a real 60s wait.
func TestSenderBatchesAndFlushesOnShutdown(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	s, err := NewSender(SenderConfig{
		StreamID:      1,
		TargetAddr:    listener.LocalAddr().String(),
		MaxBatchDelay: 60 * time.Second,
		QueueCapacity: 200,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	go s.Run()

	const total = 100
	payload := make([]byte, 7)
	for i := 0; i < total; i++ {
		if err := s.Send(wire.MatchEvent, wire.FlagNone, payload); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, wire.MaxMTU)
	var datagrams int
	var gotMessages int
	var expectedSeq uint64
	for {
		n, _, err := listener.ReadFromUDP(buf)
		if err != nil {
			break
		}
		datagrams++
		pkt, err := wire.ParsePacket(buf[:n])
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		for _, m := range pkt.Messages {
			if m.Seq != expectedSeq {
				t.Errorf("message seq = %d, want %d (contiguous)", m.Seq, expectedSeq)
			}
			expectedSeq++
			gotMessages++
		}
	}

	if datagrams > 2 {
		t.Errorf("got %d datagrams, want <= 2", datagrams)
	}
	if gotMessages != total {
		t.Errorf("got %d messages total, want %d", gotMessages, total)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	s, err := NewSender(SenderConfig{
		StreamID:      1,
		TargetAddr:    listener.LocalAddr().String(),
		MaxBatchDelay: time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	oversized := make([]byte, wire.MaxPayload+1)
	if err := s.Send(wire.MatchEvent, wire.FlagNone, oversized); err == nil {
		t.Error("expected Send to reject a payload larger than MaxPayload")
	}
}
