package canbus

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggedPort wraps a Port and logs every Send and every Recv through a
// logrus FieldLogger, except Recv calls that end in ErrTimeout. Adapted from the pack's generic StructuredLogger-based
// loggedBus decorator, narrowed to logrus since the rest of this module
// standardizes on it.
type LoggedPort struct {
	inner Port
	log   logrus.FieldLogger
}

// NewLoggedPort wraps inner, logging at debug level.
func NewLoggedPort(inner Port, log logrus.FieldLogger) *LoggedPort {
	return &LoggedPort{inner: inner, log: log}
}

func (p *LoggedPort) Send(ctx context.Context, f Frame) error {
	err := p.inner.Send(ctx, f)
	if err != nil {
		p.log.WithError(err).WithField("frame", f.String()).Debug("canbus send failed")
		return err
	}
	p.log.WithField("frame", f.String()).Debug("canbus send")
	return nil
}

func (p *LoggedPort) Recv(ctx context.Context, timeout time.Duration) (Frame, error) {
	f, err := p.inner.Recv(ctx, timeout)
	if err != nil {
		if err != ErrTimeout {
			p.log.WithError(err).Debug("canbus recv failed")
		}
		return f, err
	}
	p.log.WithField("frame", f.String()).Debug("canbus recv")
	return f, nil
}

func (p *LoggedPort) Close() error {
	return p.inner.Close()
}
