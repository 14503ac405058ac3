//go:build integration

package beam

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/natsclient"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

func TestIntegration_StreamerOverNATS(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithTestTimeout(10*time.Second))
	ctx := context.Background()

	received := make(chan *nats.Msg, 16)
	require.NoError(t, tc.Client.Subscribe(ctx, "station.>", func(_ context.Context, msg *nats.Msg) {
		received <- msg
	}))
	require.NoError(t, tc.Client.Flush(ctx))

	buf := newTestBuffer(t, testGeometry())
	streamer, err := NewStreamer(Deps{
		Config:    testStreamerConfig(),
		Source:    buf,
		Publisher: NewNATSPublisher(tc.Client, "station", fastRetry(), nil),
	})
	require.NoError(t, err)
	require.NoError(t, streamer.Start(ctx))
	defer streamer.Stop(time.Second)

	writeSpan(t, buf, 0, 512, 464)
	streamer.poll()

	got := make(map[string]Message)
	for len(got) < 4 {
		select {
		case nm := <-received:
			msg, err := DecodeMessage(nm)
			require.NoError(t, err)
			got[nm.Subject] = msg
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of 4 messages", len(got))
		}
	}

	beam0 := got["station.0.1"]
	assert.Equal(t, int64(448), beam0.Begin)
	assert.Equal(t, []buffer.Gap{{Offset: 16, Length: 16}}, beam0.Gaps)
	assert.Equal(t, sampleAt(448, 1), buffer.DecodeSamples(beam0.Data)[0])

	beam1 := got["station.1.0"]
	assert.Equal(t, int64(320), beam1.Begin)
	assert.Empty(t, beam1.Gaps)
	assert.Equal(t, beam0.Transaction, beam1.Transaction)
}
