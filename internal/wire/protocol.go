// Package wire implements the bit-exact binary framing used for every
// UDP hop between services: a 24-byte packet header followed by zero
// or more 4-byte-header messages, little-endian throughout.
//
// Layout mirrors the reference afterburn/mexchange udp_proto crate,
// translated from its PacketHeader/MessageHeader/PacketBuilder types.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// ProtocolVersion is the only version this codec accepts.
	ProtocolVersion = 1
	// PacketHeaderLen is the fixed packet header size in bytes.
	PacketHeaderLen = 24
	// MessageHeaderLen is the fixed message header size in bytes.
	MessageHeaderLen = 4
	// MaxMTU bounds a full packet, including its header.
	MaxMTU = 1400
	// MaxPayload is the largest payload a single message may carry.
	MaxPayload = MaxMTU - PacketHeaderLen - MessageHeaderLen
)

// MessageType enumerates the wire message kinds carried inside a packet.
type MessageType uint8

const (
	OrderNew       MessageType = 0x01
	OrderCancel    MessageType = 0x02
	OrderReplace   MessageType = 0x03
	MatchEvent     MessageType = 0x10
	BookSnapshot   MessageType = 0x11
	BookUpdate     MessageType = 0x12
	PositionUpdate MessageType = 0x20
	Heartbeat      MessageType = 0x30
	Control        MessageType = 0x40
)

// Flags are per-message bit flags.
type Flags uint8

const (
	FlagNone       Flags = 0
	FlagLastInBatch Flags = 0x01
	FlagUrgent      Flags = 0x02
)

// PacketHeader is the 24-byte header that precedes every packet.
type PacketHeader struct {
	Version     uint8
	HeaderLen   uint8
	MsgCount    uint16
	StreamID    uint32
	PacketSeq   uint64
	FirstMsgSeq uint64
}

// IsHeartbeat reports whether this packet carries zero messages.
func (h PacketHeader) IsHeartbeat() bool { return h.MsgCount == 0 }

// WriteTo encodes the header into buf, which must be at least
// PacketHeaderLen bytes.
func (h PacketHeader) WriteTo(buf []byte) (int, error) {
	if len(buf) < PacketHeaderLen {
		return 0, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrBufferTooSmall, PacketHeaderLen, len(buf))
	}
	buf[0] = h.Version
	buf[1] = h.HeaderLen
	binary.LittleEndian.PutUint16(buf[2:4], h.MsgCount)
	binary.LittleEndian.PutUint32(buf[4:8], h.StreamID)
	binary.LittleEndian.PutUint64(buf[8:16], h.PacketSeq)
	binary.LittleEndian.PutUint64(buf[16:24], h.FirstMsgSeq)
	return PacketHeaderLen, nil
}

// ReadPacketHeader decodes a packet header from buf, validating
// version and header length.
func ReadPacketHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < PacketHeaderLen {
		return PacketHeader{}, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrBufferTooSmall, PacketHeaderLen, len(buf))
	}
	version := buf[0]
	if version != ProtocolVersion {
		return PacketHeader{}, fmt.Errorf("wire: %w: got %d", ErrInvalidVersion, version)
	}
	headerLen := buf[1]
	if headerLen != PacketHeaderLen {
		return PacketHeader{}, fmt.Errorf("wire: %w: got %d", ErrInvalidHeaderLength, headerLen)
	}
	return PacketHeader{
		Version:     version,
		HeaderLen:   headerLen,
		MsgCount:    binary.LittleEndian.Uint16(buf[2:4]),
		StreamID:    binary.LittleEndian.Uint32(buf[4:8]),
		PacketSeq:   binary.LittleEndian.Uint64(buf[8:16]),
		FirstMsgSeq: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// MessageHeader is the 4-byte header that precedes every message payload.
type MessageHeader struct {
	MsgType   uint8
	Flags     uint8
	PayloadLen uint16
}

func (h MessageHeader) WriteTo(buf []byte) (int, error) {
	if len(buf) < MessageHeaderLen {
		return 0, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrBufferTooSmall, MessageHeaderLen, len(buf))
	}
	buf[0] = h.MsgType
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.PayloadLen)
	return MessageHeaderLen, nil
}

func ReadMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < MessageHeaderLen {
		return MessageHeader{}, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrBufferTooSmall, MessageHeaderLen, len(buf))
	}
	return MessageHeader{
		MsgType:    buf[0],
		Flags:      buf[1],
		PayloadLen: binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// Message is a single decoded message plus its derived global sequence.
type Message struct {
	Type    MessageType
	Flags   Flags
	Payload []byte
	Seq     uint64
}

// Packet is a fully parsed packet: its header and the messages it carried.
type Packet struct {
	Header   PacketHeader
	Messages []Message
}

// ParsePacket decodes a full packet from a received datagram.
func ParsePacket(buf []byte) (Packet, error) {
	header, err := ReadPacketHeader(buf)
	if err != nil {
		return Packet{}, err
	}

	messages := make([]Message, 0, header.MsgCount)
	offset := PacketHeaderLen
	for i := uint16(0); i < header.MsgCount; i++ {
		if offset >= len(buf) {
			break
		}
		mh, err := ReadMessageHeader(buf[offset:])
		if err != nil {
			return Packet{}, err
		}
		offset += MessageHeaderLen

		end := offset + int(mh.PayloadLen)
		if end > len(buf) {
			return Packet{}, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrBufferTooSmall, end, len(buf))
		}
		payload := make([]byte, mh.PayloadLen)
		copy(payload, buf[offset:end])
		offset = end

		messages = append(messages, Message{
			Type:    MessageType(mh.MsgType),
			Flags:   Flags(mh.Flags),
			Payload: payload,
			Seq:     header.FirstMsgSeq + uint64(i),
		})
	}

	return Packet{Header: header, Messages: messages}, nil
}

// Builder accumulates messages into a single packet, up to MaxMTU.
type Builder struct {
	buf         []byte
	streamID    uint32
	packetSeq   uint64
	firstMsgSeq uint64
	msgCount    uint16
	writeOffset int
}

// NewBuilder starts an empty packet for the given stream and sequence pair.
func NewBuilder(streamID uint32, packetSeq, firstMsgSeq uint64) *Builder {
	return &Builder{
		buf:         make([]byte, MaxMTU),
		streamID:    streamID,
		packetSeq:   packetSeq,
		firstMsgSeq: firstMsgSeq,
		writeOffset: PacketHeaderLen,
	}
}

// RemainingCapacity returns how many more bytes fit in this packet.
func (b *Builder) RemainingCapacity() int { return MaxMTU - b.writeOffset }

// IsEmpty reports whether no message has been added yet.
func (b *Builder) IsEmpty() bool { return b.msgCount == 0 }

// MsgCount returns the number of messages added so far.
func (b *Builder) MsgCount() uint16 { return b.msgCount }

// TryAddMessage attempts to append a message; it returns false without
// mutating the builder if the message would not fit within MaxMTU.
func (b *Builder) TryAddMessage(msgType MessageType, flags Flags, payload []byte) bool {
	needed := MessageHeaderLen + len(payload)
	if needed > b.RemainingCapacity() {
		return false
	}
	h := MessageHeader{MsgType: uint8(msgType), Flags: uint8(flags), PayloadLen: uint16(len(payload))}
	n, err := h.WriteTo(b.buf[b.writeOffset:])
	if err != nil {
		return false
	}
	b.writeOffset += n
	copy(b.buf[b.writeOffset:], payload)
	b.writeOffset += len(payload)
	b.msgCount++
	return true
}

// Finish writes the packet header and returns the final datagram bytes.
func (b *Builder) Finish() []byte {
	header := PacketHeader{
		Version:     ProtocolVersion,
		HeaderLen:   PacketHeaderLen,
		MsgCount:    b.msgCount,
		StreamID:    b.streamID,
		PacketSeq:   b.packetSeq,
		FirstMsgSeq: b.firstMsgSeq,
	}
	header.WriteTo(b.buf)
	return b.buf[:b.writeOffset]
}

// HeartbeatPacket builds a zero-message packet carrying liveness only.
// msg_seq does not advance for heartbeats; packet_seq does.
func HeartbeatPacket(streamID uint32, packetSeq, msgSeq uint64) []byte {
	buf := make([]byte, PacketHeaderLen)
	header := PacketHeader{
		Version:     ProtocolVersion,
		HeaderLen:   PacketHeaderLen,
		MsgCount:    0,
		StreamID:    streamID,
		PacketSeq:   packetSeq,
		FirstMsgSeq: msgSeq,
	}
	header.WriteTo(buf)
	return buf
}
