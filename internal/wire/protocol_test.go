package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	b := NewBuilder(7, 42, 1000)

	payloads := [][]byte{
		bytes.Repeat([]byte{0xAB}, 16),
		bytes.Repeat([]byte{0xCD}, 200),
		{0x01, 0x02, 0x03},
	}
	types := []MessageType{MatchEvent, BookSnapshot, Heartbeat}
	flags := []Flags{FlagNone, FlagLastInBatch, FlagUrgent}

	for i, p := range payloads {
		if !b.TryAddMessage(types[i], flags[i], p) {
			t.Fatalf("message %d unexpectedly did not fit", i)
		}
	}

	datagram := b.Finish()

	pkt, err := ParsePacket(datagram)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}

	if pkt.Header.Version != ProtocolVersion {
		t.Errorf("version = %d, want %d", pkt.Header.Version, ProtocolVersion)
	}
	if pkt.Header.HeaderLen != PacketHeaderLen {
		t.Errorf("header_len = %d, want %d", pkt.Header.HeaderLen, PacketHeaderLen)
	}
	if pkt.Header.StreamID != 7 {
		t.Errorf("stream_id = %d, want 7", pkt.Header.StreamID)
	}
	if pkt.Header.PacketSeq != 42 {
		t.Errorf("packet_seq = %d, want 42", pkt.Header.PacketSeq)
	}
	if pkt.Header.FirstMsgSeq != 1000 {
		t.Errorf("first_msg_seq = %d, want 1000", pkt.Header.FirstMsgSeq)
	}
	if len(pkt.Messages) != len(payloads) {
		t.Fatalf("got %d messages, want %d", len(pkt.Messages), len(payloads))
	}

	for i, m := range pkt.Messages {
		if m.Type != types[i] {
			t.Errorf("message %d type = %v, want %v", i, m.Type, types[i])
		}
		if m.Flags != flags[i] {
			t.Errorf("message %d flags = %v, want %v", i, m.Flags, flags[i])
		}
		if !bytes.Equal(m.Payload, payloads[i]) {
			t.Errorf("message %d payload mismatch", i)
		}
		wantSeq := uint64(1000) + uint64(i)
		if m.Seq != wantSeq {
			t.Errorf("message %d seq = %d, want %d", i, m.Seq, wantSeq)
		}
	}
}

func TestHeartbeatPacketRoundTrip(t *testing.T) {
	datagram := HeartbeatPacket(3, 5, 99)
	if len(datagram) != PacketHeaderLen {
		t.Fatalf("heartbeat datagram length = %d, want %d", len(datagram), PacketHeaderLen)
	}

	pkt, err := ParsePacket(datagram)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if !pkt.Header.IsHeartbeat() {
		t.Error("expected IsHeartbeat() true")
	}
	if len(pkt.Messages) != 0 {
		t.Errorf("got %d messages, want 0", len(pkt.Messages))
	}
}

func TestBuilderRespectsMTU(t *testing.T) {
	b := NewBuilder(1, 1, 1)
	big := bytes.Repeat([]byte{0x00}, MaxPayload)
	if !b.TryAddMessage(OrderNew, FlagNone, big) {
		t.Fatal("expected a single max-size payload to fit")
	}
	if b.TryAddMessage(OrderNew, FlagNone, []byte{0x01}) {
		t.Fatal("expected a second message to overflow the MTU and be rejected")
	}
	if len(b.Finish()) > MaxMTU {
		t.Errorf("finished packet exceeds MaxMTU: %d", len(b.Finish()))
	}
}

func TestReadPacketHeaderInvalidVersion(t *testing.T) {
	buf := make([]byte, PacketHeaderLen)
	buf[0] = 2 // unsupported version
	buf[1] = PacketHeaderLen
	_, err := ReadPacketHeader(buf)
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("got %v, want ErrInvalidVersion", err)
	}
}

func TestReadPacketHeaderInvalidHeaderLength(t *testing.T) {
	buf := make([]byte, PacketHeaderLen)
	buf[0] = ProtocolVersion
	buf[1] = 10 // wrong header length
	_, err := ReadPacketHeader(buf)
	if !errors.Is(err, ErrInvalidHeaderLength) {
		t.Errorf("got %v, want ErrInvalidHeaderLength", err)
	}
}

func TestReadPacketHeaderBufferTooSmall(t *testing.T) {
	buf := make([]byte, PacketHeaderLen-1)
	_, err := ReadPacketHeader(buf)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("got %v, want ErrBufferTooSmall", err)
	}
}

func TestParsePacketTruncatedPayload(t *testing.T) {
	b := NewBuilder(1, 1, 1)
	if !b.TryAddMessage(OrderNew, FlagNone, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatal("message unexpectedly did not fit")
	}
	datagram := b.Finish()
	truncated := datagram[:len(datagram)-2]

	_, err := ParsePacket(truncated)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("got %v, want ErrBufferTooSmall", err)
	}
}
