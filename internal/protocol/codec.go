package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Codec encodes and decodes RCON packets. The zero value treats payloads
// as ASCII, which is what most Source engine servers and tools speak.
type Codec struct {
	// UTF8 switches payload text from ASCII to UTF-8.
	UTF8 bool
}

var asciiCodec = Codec{}

// Decode parses a single packet using the ASCII codec.
func Decode(data []byte) (Packet, error) {
	return asciiCodec.Decode(data)
}

// Encode serializes a single packet using the ASCII codec.
func Encode(id int32, t PacketType, payload string) ([]byte, error) {
	return asciiCodec.Encode(id, t, payload)
}

// Encode serializes a packet. The size field is payload length + 10.
func (c Codec) Encode(id int32, t PacketType, payload string) ([]byte, error) {
	if i := strings.IndexByte(payload, 0); i >= 0 {
		return nil, fmt.Errorf("%w: offset %d", ErrNullInPayload, i)
	}
	body := c.encodeText(payload)

	total := headerLen + len(body) + trailerLen
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLong, total, MaxPacketSize)
	}

	b := NewPacketBuilder()
	b.WriteInt32(int32(len(body) + minBodySize))
	b.WriteInt32(id)
	b.WriteInt32(int32(t))
	b.WriteNullBytes(body)
	b.WriteUint8(0)
	return b.Build(), nil
}

// EncodePacket serializes p, ignoring its Size field.
func (c Codec) EncodePacket(p Packet) ([]byte, error) {
	return c.Encode(p.ID, p.Type, p.Payload)
}

// Sanitize replaces null bytes in payload with '?' so it can be encoded.
func Sanitize(payload string) string {
	if strings.IndexByte(payload, 0) < 0 {
		return payload
	}
	return strings.ReplaceAll(payload, "\x00", "?")
}

// Truncate shortens payload so that its encoded form fits in one packet.
// In UTF-8 mode the cut never splits a rune.
func (c Codec) Truncate(payload string) string {
	if !c.UTF8 {
		// one wire byte per rune
		if utf8.RuneCountInString(payload) <= MaxPayloadSize {
			return payload
		}
		n := 0
		for i := range payload {
			if n == MaxPayloadSize {
				return payload[:i]
			}
			n++
		}
		return payload
	}

	if len(payload) <= MaxPayloadSize {
		return payload
	}
	cut := MaxPayloadSize
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return payload[:cut]
}

// encodeText converts payload text to wire bytes. In ASCII mode every
// non-ASCII rune becomes '?'.
func (c Codec) encodeText(s string) []byte {
	if c.UTF8 {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// decodeText converts wire bytes to payload text. In ASCII mode bytes
// above 0x7F become '?'; in UTF-8 mode invalid sequences become U+FFFD.
func (c Codec) decodeText(raw []byte) string {
	if c.UTF8 {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		if v < utf8.RuneSelf {
			out[i] = v
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}
