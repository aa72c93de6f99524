package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader splits a byte stream into whole packets using the size
// field, so packets split across reads or coalesced into one read are
// handled. It only frames; Decode still validates each packet.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, MaxPacketSize)}
}

// ReadFrame blocks until one complete packet is available and returns its
// raw bytes, size field included. The returned slice is not reused.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var sizeBuf [sizeFieldLen]byte
	if _, err := io.ReadFull(f.r, sizeBuf[:]); err != nil {
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < minBodySize {
		return nil, fmt.Errorf("%w: size field %d is below the minimum %d", ErrLengthMismatch, size, minBodySize)
	}
	if int(size)+sizeFieldLen > MaxPacketSize {
		return nil, fmt.Errorf("%w: size field %d exceeds the maximum %d", ErrLengthMismatch, size, MaxPacketSize-sizeFieldLen)
	}

	frame := make([]byte, sizeFieldLen+int(size))
	copy(frame, sizeBuf[:])
	if _, err := io.ReadFull(f.r, frame[sizeFieldLen:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}
