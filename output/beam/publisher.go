package beam

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/pkg/retry"
)

// Publisher delivers beam messages to consumers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// MsgPublisher sends a raw NATS message. *natsclient.Client satisfies it.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

// NATSPublisher publishes each Message on "<subject>.<beam>.<subband>", retrying transient
// failures with backoff.
type NATSPublisher struct {
	conn    MsgPublisher
	subject string
	retry   retry.Config
	logger  *slog.Logger
}

// NewNATSPublisher returns a publisher writing under subject through conn.
func NewNATSPublisher(conn MsgPublisher, subject string, retryCfg retry.Config, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		retry:   retryCfg,
		logger:  logger.With("component", "nats-publisher", "subject", subject),
	}
}

// Publish encodes and sends msg.
func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	nm, err := msg.ToNATS(p.subject)
	if err != nil {
		return err
	}

	attempts := 0
	err = retry.Do(ctx, p.retry, func() error {
		attempts++
		return p.conn.PublishMsg(ctx, nm)
	})
	if err != nil {
		p.logger.Debug("Publish failed", "nats_subject", nm.Subject, "attempts", attempts, "error", err)
		if errors.IsInvalid(err) {
			return err
		}
		return errors.WrapTransient(err, "NATSPublisher", "Publish", "publish "+nm.Subject)
	}
	if attempts > 1 {
		p.logger.Debug("Publish succeeded after retry", "nats_subject", nm.Subject, "attempts", attempts)
	}
	return nil
}

// FanOut publishes every message to each of its publishers in order. A failing
// publisher does not stop the others; all errors are returned joined.
type FanOut []Publisher

// Publish implements Publisher.
func (f FanOut) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
