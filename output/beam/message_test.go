package beam

import (
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

func TestMessage_ToNATS(t *testing.T) {
	tx := uuid.New()
	msg := Message{
		Transaction: tx,
		Beam:        1,
		Subband:     12,
		Begin:       1000,
		Count:       40,
		Offset:      0,
		Shift:       0,
		Gaps:        []buffer.Gap{{Offset: 8, Length: 32}},
		Data:        make([]byte, 8*buffer.SampleSize),
	}

	nm, err := msg.ToNATS("beamlet")
	require.NoError(t, err)

	assert.Equal(t, "beamlet.1.12", nm.Subject)
	assert.Equal(t, tx.String(), nm.Header.Get(HeaderTransaction))
	assert.Equal(t, "1000", nm.Header.Get(HeaderBegin))
	assert.Equal(t, "40", nm.Header.Get(HeaderCount))
	assert.Equal(t, `[{"offset":8,"length":32}]`, nm.Header.Get(HeaderGaps))
	assert.Empty(t, nm.Header.Get(HeaderTruncated))
	assert.Equal(t, 32, msg.FlaggedSamples())

	decoded, err := DecodeMessage(nm)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMessage_NoGapsEncodesEmptyList(t *testing.T) {
	nm, err := Message{Transaction: uuid.New(), Truncated: true}.ToNATS("beamlet")
	require.NoError(t, err)
	assert.Equal(t, "[]", nm.Header.Get(HeaderGaps))
	assert.Equal(t, "true", nm.Header.Get(HeaderTruncated))

	decoded, err := DecodeMessage(nm)
	require.NoError(t, err)
	assert.Empty(t, decoded.Gaps)
	assert.True(t, decoded.Truncated)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	valid := func() *nats.Msg {
		nm, err := Message{Transaction: uuid.New(), Beam: 0, Subband: 3, Count: 4}.ToNATS("beamlet")
		require.NoError(t, err)
		return nm
	}

	tests := []struct {
		name   string
		mutate func(*nats.Msg)
	}{
		{"short subject", func(m *nats.Msg) { m.Subject = "beamlet.3" }},
		{"beam not a number", func(m *nats.Msg) { m.Subject = "beamlet.x.3" }},
		{"subband not a number", func(m *nats.Msg) { m.Subject = "beamlet.0.y" }},
		{"no headers", func(m *nats.Msg) { m.Header = nil }},
		{"bad transaction", func(m *nats.Msg) { m.Header.Set(HeaderTransaction, "nope") }},
		{"bad begin", func(m *nats.Msg) { m.Header.Set(HeaderBegin, "") }},
		{"bad shift", func(m *nats.Msg) { m.Header.Set(HeaderShift, "1.5") }},
		{"bad gaps", func(m *nats.Msg) { m.Header.Set(HeaderGaps, "{") }},
		{"partial sample", func(m *nats.Msg) { m.Data = []byte{1, 2, 3} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nm := valid()
			tt.mutate(nm)
			_, err := DecodeMessage(nm)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidData)
		})
	}
}
