// Package protocol implements the Source RCON wire format shared by the
// server and client roles. All integer fields are little-endian:
//
//	[size:4][id:4][type:4][payload bytes...][0x00 terminator][0x00 pad]
//
// size counts every byte after the size field itself.
package protocol

import "fmt"

// PacketType identifies the purpose of a packet.
type PacketType int32

const (
	TypeResponseValue PacketType = 0 // Command output, also the pre-auth compatibility reply
	TypeExecCommand   PacketType = 2 // Command request, also the auth acknowledgement
	TypeAuth          PacketType = 3 // Password submission
)

// MaxPacketSize is the maximum total size of a packet on the wire.
const MaxPacketSize = 4096

// MaxPayloadSize is the largest encoded payload that fits in one packet.
const MaxPayloadSize = MaxPacketSize - headerLen - trailerLen

const (
	sizeFieldLen = 4
	headerLen    = 12 // size + id + type
	trailerLen   = 2  // terminator + pad

	// minBodySize is the size field value for an empty payload:
	// id + type + terminator + pad.
	minBodySize = 10
)

// AuthFailedID is the packet id the server uses in its ExecCommand reply
// to signal a rejected password.
const AuthFailedID int32 = -1

// Valid reports whether t is one of the defined packet types.
func (t PacketType) Valid() bool {
	switch t {
	case TypeResponseValue, TypeExecCommand, TypeAuth:
		return true
	}
	return false
}

// String returns the protocol name of the packet type.
func (t PacketType) String() string {
	switch t {
	case TypeResponseValue:
		return "SERVERDATA_RESPONSE_VALUE"
	case TypeExecCommand:
		return "SERVERDATA_EXECCOMMAND"
	case TypeAuth:
		return "SERVERDATA_AUTH"
	default:
		return fmt.Sprintf("PacketType(%d)", int32(t))
	}
}

// Packet is a decoded RCON packet.
type Packet struct {
	Size    int32
	ID      int32
	Type    PacketType
	Payload string
}

// NewPacket builds a packet value with the size field filled in for a
// payload that encodes to the same number of bytes it has in Go.
func NewPacket(id int32, t PacketType, payload string) Packet {
	return Packet{
		Size:    int32(len(payload) + minBodySize),
		ID:      id,
		Type:    t,
		Payload: payload,
	}
}

// Len returns the total number of bytes the packet occupies on the wire.
func (p Packet) Len() int {
	return int(p.Size) + sizeFieldLen
}
