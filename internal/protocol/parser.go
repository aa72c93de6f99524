package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Decode parses exactly one packet from data. The whole slice must be the
// packet: the size field has to account for every byte after itself.
func (c Codec) Decode(data []byte) (Packet, error) {
	if len(data) < sizeFieldLen {
		return Packet{}, fmt.Errorf("%w: %d bytes is shorter than the size field", ErrLengthMismatch, len(data))
	}

	size := int32(binary.LittleEndian.Uint32(data[0:4]))
	if int64(size)+sizeFieldLen != int64(len(data)) {
		return Packet{}, fmt.Errorf("%w: size field %d, received %d bytes", ErrLengthMismatch, size, len(data))
	}
	if len(data) < headerLen {
		return Packet{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrLengthMismatch, len(data))
	}

	id := int32(binary.LittleEndian.Uint32(data[4:8]))
	t := PacketType(int32(binary.LittleEndian.Uint32(data[8:12])))
	if !t.Valid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(t))
	}

	body := data[headerLen:]
	end := bytes.IndexByte(body, 0)
	if end < 0 {
		return Packet{}, fmt.Errorf("%w: payload is not terminated", ErrNullTerminatorMissing)
	}
	raw := body[:end]
	if len(raw) > int(size)-9 {
		return Packet{}, fmt.Errorf("%w: payload of %d bytes does not fit size %d", ErrLengthMismatch, len(raw), size)
	}

	rest := body[end+1:]
	if len(rest) == 0 || rest[0] != 0 {
		return Packet{}, fmt.Errorf("%w: trailing pad byte absent", ErrNullTerminatorMissing)
	}
	if len(rest) > 1 {
		return Packet{}, fmt.Errorf("%w: %d bytes after the pad byte", ErrNullTerminatorMissing, len(rest)-1)
	}

	return Packet{
		Size:    size,
		ID:      id,
		Type:    t,
		Payload: c.decodeText(raw),
	}, nil
}

// ReadRaw performs a single read of up to len(buf) bytes and returns what
// arrived. Each read is treated as exactly one packet; packets split across
// reads or coalesced into one read are not reassembled. A nil slice with a
// nil error means the read returned no data yet.
func ReadRaw(r io.Reader, buf []byte) ([]byte, error) {
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// WriteRaw writes an encoded packet in full.
func WriteRaw(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet (%d bytes): %w", len(data), err)
	}
	return nil
}
