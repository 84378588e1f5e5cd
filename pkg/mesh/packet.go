// Package mesh implements the long-range radio protocol engine: packet
// framing with checksums, neighbor discovery, single-hop routing tables and
// TTL-bounded forwarding.
package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// PacketType tags the wire unit for dispatch.
type PacketType uint8

const (
	PacketDiscovery PacketType = iota + 1
	PacketData
	PacketSync
	PacketEmergency
	PacketHeartbeat
	PacketAck
)

func (t PacketType) String() string {
	switch t {
	case PacketDiscovery:
		return "discovery"
	case PacketData:
		return "data"
	case PacketSync:
		return "sync"
	case PacketEmergency:
		return "emergency"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Header flags.
const (
	// FlagAckRequested asks the final receiver to reply with a PacketAck
	// carrying the original sequence number.
	FlagAckRequested uint16 = 1 << 0
)

// Fixed frame layout (40-byte header + payload) for fast parsing on
// constrained radios. All integer fields are little-endian; the layout is
// fixed, so serialization is canonical and the checksum verifies
// byte-identically across nodes.
//
//	0  ..1   Magic    'E''V' (0x4556)
//	2        Version  u8
//	3        Type     u8
//	4        Priority u8
//	5        TTL      u8
//	6  ..7   Flags    u16
//	8  ..15  Source   u64
//	16 ..23  Dest     u64
//	24 ..27  Seq      u32
//	28 ..31  PayloadLen u32
//	32 ..39  Checksum u64 (xxhash64 over the frame with this field zeroed)
const (
	headerSize = 40
	magicWord  = uint16(0x4556) // 'E''V'

	// ProtocolVersion is stamped on every outbound frame.
	ProtocolVersion = 1
)

var (
	ErrShortFrame = errors.New("short frame")
	ErrBadMagic   = errors.New("bad magic")
	ErrBadVersion = errors.New("unsupported protocol version")
	ErrTruncated  = errors.New("truncated payload")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrOversize   = errors.New("payload exceeds frame limit")
)

// Packet is the decoded wire unit of the radio transport.
type Packet struct {
	Version  uint8
	Type     PacketType
	Priority comm.Priority
	TTL      uint8
	Flags    uint16
	Source   comm.NodeID
	Dest     comm.NodeID
	Seq      uint32
	Payload  []byte
}

// Broadcast reports whether the packet addresses every node in range.
func (p *Packet) Broadcast() bool { return p.Dest == comm.Broadcast }

// AckRequested reports whether the sender asked for a protocol-level ack.
func (p *Packet) AckRequested() bool { return p.Flags&FlagAckRequested != 0 }

// EncodeFrame serializes the packet and stamps its checksum.
func (p *Packet) EncodeFrame() ([]byte, error) {
	if len(p.Payload) > int(^uint32(0)) {
		return nil, ErrOversize
	}
	buf := make([]byte, headerSize+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	v := p.Version
	if v == 0 {
		v = ProtocolVersion
	}
	buf[2] = v
	buf[3] = uint8(p.Type)
	buf[4] = uint8(p.Priority)
	buf[5] = p.TTL
	binary.LittleEndian.PutUint16(buf[6:8], p.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.Source))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.Dest))
	binary.LittleEndian.PutUint32(buf[24:28], p.Seq)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(len(p.Payload)))
	copy(buf[headerSize:], p.Payload)
	// checksum over the frame with the checksum field zeroed
	binary.LittleEndian.PutUint64(buf[32:40], xxhash.Sum64(buf))
	return buf, nil
}

// DecodeFrame parses and verifies one frame. Packets failing verification
// must never be dispatched or forwarded.
func DecodeFrame(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, ErrShortFrame
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return nil, ErrBadMagic
	}
	if buf[2] != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, buf[2])
	}
	plen := binary.LittleEndian.Uint32(buf[28:32])
	if len(buf) != headerSize+int(plen) {
		return nil, ErrTruncated
	}
	want := binary.LittleEndian.Uint64(buf[32:40])
	scratch := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint64(scratch[32:40], 0)
	if xxhash.Sum64(scratch) != want {
		return nil, ErrChecksum
	}
	p := &Packet{
		Version:  buf[2],
		Type:     PacketType(buf[3]),
		Priority: comm.Priority(buf[4]),
		TTL:      buf[5],
		Flags:    binary.LittleEndian.Uint16(buf[6:8]),
		Source:   comm.NodeID(binary.LittleEndian.Uint64(buf[8:16])),
		Dest:     comm.NodeID(binary.LittleEndian.Uint64(buf[16:24])),
		Seq:      binary.LittleEndian.Uint32(buf[24:28]),
	}
	if plen > 0 {
		p.Payload = append([]byte(nil), buf[headerSize:]...)
	}
	return p, nil
}
