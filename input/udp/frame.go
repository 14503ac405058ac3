package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// HeaderSize is the length of the frame header: the absolute time of the packet's first
// sample as a little-endian int64.
const HeaderSize = 8

// EncodeFrame builds a datagram carrying payload stamped with ts.
func EncodeFrame(ts int64, payload []byte) []byte {
	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(ts))
	return append(frame, payload...)
}

// ParseFrame splits a datagram into its timestamp and payload. The payload aliases frame.
func ParseFrame(frame []byte, payloadSize int) (int64, []byte, error) {
	if len(frame) != HeaderSize+payloadSize {
		return 0, nil, errors.WrapInvalid(
			fmt.Errorf("%w: frame of %d bytes, want %d", errors.ErrInvalidData, len(frame), HeaderSize+payloadSize),
			"udp-input", "ParseFrame", "frame size check")
	}
	ts := int64(binary.LittleEndian.Uint64(frame))
	return ts, frame[HeaderSize:], nil
}
