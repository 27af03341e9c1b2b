package telemetry

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"
)

// Receiver connects to a Transmitter and decodes its frames, reconnecting
// with capped exponential backoff whenever the connection fails.
type Receiver struct {
	addr     string
	maxFrame int
	retry    retry
	dialer   net.Dialer
}

func NewReceiver(addr string, maxFrame int, b Backoff) *Receiver {
	return &Receiver{
		addr:     addr,
		maxFrame: maxFrame,
		retry:    newRetry(b),
	}
}

// Run calls handle for every decoded message until ctx is done.
func (r *Receiver) Run(ctx context.Context, handle func(Message)) error {
	for {
		conn, err := r.dialer.DialContext(ctx, "tcp", r.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithFields(log.Fields{
				"addr":  r.addr,
				"retry": r.retry.delay("dial"),
			}).WithError(err).Debug("telemetry dial failed")
			if err := r.retry.wait(ctx, "dial"); err != nil {
				return nil
			}
			continue
		}
		r.retry.reset("dial")
		log.WithField("addr", r.addr).Info("telemetry connected")

		err = r.read(ctx, conn, handle)
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("telemetry connection lost")
		if err := r.retry.wait(ctx, "dial"); err != nil {
			return nil
		}
	}
}

func (r *Receiver) read(ctx context.Context, conn net.Conn, handle func(Message)) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	fr := NewFrameReader(conn, r.maxFrame)
	for {
		m, err := fr.Next()
		if err != nil {
			return err
		}
		handle(m)
	}
}
