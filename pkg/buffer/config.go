package buffer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// Sample is one beamlet sample: complex int16 for each of the X and Y polarizations.
type Sample struct {
	XRe, XIm int16
	YRe, YIm int16
}

const (
	// SampleSize is the encoded size of a Sample in bytes.
	SampleSize = 8

	// Alignment is the number of samples in one 32-byte transfer unit. Slices whose first
	// slot is a multiple of Alignment can be handed out without a copy.
	Alignment = 32 / SampleSize
)

// DecodeSamples interprets little-endian sample bytes as a slice of Samples.
func DecodeSamples(data []byte) []Sample {
	out := make([]Sample, len(data)/SampleSize)
	for i := range out {
		b := data[i*SampleSize:]
		out[i] = Sample{
			XRe: int16(binary.LittleEndian.Uint16(b[0:])),
			XIm: int16(binary.LittleEndian.Uint16(b[2:])),
			YRe: int16(binary.LittleEndian.Uint16(b[4:])),
			YIm: int16(binary.LittleEndian.Uint16(b[6:])),
		}
	}
	return out
}

// EncodeSample appends the little-endian encoding of s to dst.
func EncodeSample(dst []byte, s Sample) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.XRe))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.XIm))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.YRe))
	return binary.LittleEndian.AppendUint16(dst, uint16(s.YIm))
}

// Config holds the construction-time geometry and flow-control policy of a BeamletBuffer.
type Config struct {
	// Capacity is the number of samples per subband held in the circular store.
	Capacity int `json:"capacity" yaml:"capacity"`

	// PacketLength is the number of consecutive samples per subband in one packet.
	PacketLength int `json:"packet_length" yaml:"packet_length"`

	SubbandCount int `json:"subband_count" yaml:"subband_count"`
	BeamCount    int `json:"beam_count" yaml:"beam_count"`

	// HistoryWindow is how far behind the newest sample readers may reach. Zero means the
	// whole Capacity. Together with MaxNetworkDelay it decides how long a slow reader is
	// tolerated before it gets truncated.
	HistoryWindow int `json:"history_window,omitempty" yaml:"history_window,omitempty"`

	// Synchronous makes the writer wait, for at most MaxNetworkDelay, for readers that
	// still hold slots it is about to overwrite. Otherwise the writer never waits and the
	// overwritten samples are flagged.
	Synchronous     bool          `json:"synchronous" yaml:"synchronous"`
	MaxNetworkDelay time.Duration `json:"max_network_delay" yaml:"max_network_delay"`
}

// DefaultConfig returns the geometry of one 16-bit station board stream.
func DefaultConfig() Config {
	return Config{
		Capacity:        1 << 16,
		PacketLength:    16,
		SubbandCount:    61,
		BeamCount:       1,
		Synchronous:     false,
		MaxNetworkDelay: 100 * time.Millisecond,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"Config", "Validate", "buffer geometry check")
	}

	switch {
	case c.PacketLength <= 0:
		return invalid("packet_length must be positive, got %d", c.PacketLength)
	case c.Capacity < 2*c.PacketLength:
		return invalid("capacity %d must hold at least two packets of %d samples", c.Capacity, c.PacketLength)
	case c.SubbandCount <= 0:
		return invalid("subband_count must be positive, got %d", c.SubbandCount)
	case c.BeamCount <= 0:
		return invalid("beam_count must be positive, got %d", c.BeamCount)
	case c.HistoryWindow < 0 || c.HistoryWindow > c.Capacity:
		return invalid("history_window %d must lie within [0, capacity %d]", c.HistoryWindow, c.Capacity)
	case c.HistoryWindow != 0 && c.HistoryWindow < c.PacketLength:
		return invalid("history_window %d is smaller than one packet", c.HistoryWindow)
	case c.Synchronous && c.MaxNetworkDelay <= 0:
		return invalid("synchronous mode needs a positive max_network_delay")
	}
	return nil
}

// History returns the effective history window in samples.
func (c Config) History() int {
	if c.HistoryWindow == 0 {
		return c.Capacity
	}
	return c.HistoryWindow
}

// PacketBytes returns the payload size of one packet: subband-major, PacketLength samples per subband.
func (c Config) PacketBytes() int {
	return c.SubbandCount * c.PacketLength * SampleSize
}
