package beam

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/natsclient"
	"github.com/jjdmol/LOFAR-sub071/pkg/retry"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	return m.Called(ctx, msg).Error(0)
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &mockConn{}
	ctx := context.Background()
	tx := uuid.New()

	conn.On("PublishMsg", ctx, mock.MatchedBy(func(m *nats.Msg) bool {
		return m.Subject == "station.cs001.0.5" && m.Header.Get(HeaderTransaction) == tx.String()
	})).Return(nil).Once()

	p := NewNATSPublisher(conn, "station.cs001", fastRetry(), nil)
	require.NoError(t, p.Publish(ctx, Message{Transaction: tx, Beam: 0, Subband: 5}))

	conn.AssertExpectations(t)
}

func TestNATSPublisher_RetriesTransientFailures(t *testing.T) {
	conn := &mockConn{}
	ctx := context.Background()

	conn.On("PublishMsg", ctx, mock.Anything).Return(natsclient.ErrNotConnected).Twice()
	conn.On("PublishMsg", ctx, mock.Anything).Return(nil).Once()

	p := NewNATSPublisher(conn, "beamlet", fastRetry(), nil)
	require.NoError(t, p.Publish(ctx, Message{Transaction: uuid.New()}))

	conn.AssertNumberOfCalls(t, "PublishMsg", 3)
}

func TestNATSPublisher_GivesUp(t *testing.T) {
	conn := &mockConn{}
	ctx := context.Background()

	conn.On("PublishMsg", ctx, mock.Anything).Return(natsclient.ErrNotConnected)

	p := NewNATSPublisher(conn, "beamlet", fastRetry(), nil)
	err := p.Publish(ctx, Message{Transaction: uuid.New()})

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)
	conn.AssertNumberOfCalls(t, "PublishMsg", 3)
}

func TestNATSPublisher_InvalidIsNotRetried(t *testing.T) {
	conn := &mockConn{}
	ctx := context.Background()

	tooBig := errors.WrapInvalid(nats.ErrMaxPayload, "Client", "PublishMsg", "publish")
	conn.On("PublishMsg", ctx, mock.Anything).Return(tooBig)

	p := NewNATSPublisher(conn, "beamlet", fastRetry(), nil)
	err := p.Publish(ctx, Message{Transaction: uuid.New()})

	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	conn.AssertNumberOfCalls(t, "PublishMsg", 1)
}

func TestFanOut(t *testing.T) {
	ctx := context.Background()
	first := &recordingPublisher{err: fmt.Errorf("first down")}
	second := &recordingPublisher{}

	msg := Message{Transaction: uuid.New(), Beam: 1, Subband: 3}
	err := FanOut{first, second}.Publish(ctx, msg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first down")
	require.Len(t, second.messages(), 1, "a failing publisher must not block the rest")
	assert.Equal(t, msg.Transaction, second.messages()[0].Transaction)

	assert.NoError(t, FanOut{}.Publish(ctx, msg))
}
