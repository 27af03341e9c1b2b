package telemetry

import (
	"context"
	"time"

	"k8s.io/client-go/util/flowcontrol"
)

const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 4 * time.Second
)

// Backoff bounds the delay between reconnection attempts. Zero values take
// the defaults.
type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// retry tracks capped exponential delays per failure kind.
type retry struct {
	b *flowcontrol.Backoff
}

func newRetry(b Backoff) retry {
	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < initial {
		max = initial
	}
	return retry{b: flowcontrol.NewBackOff(initial, max)}
}

// wait sleeps for the next delay of id, or until ctx is done.
func (r retry) wait(ctx context.Context, id string) error {
	r.b.Next(id, r.b.Clock.Now())
	t := time.NewTimer(r.b.Get(id))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r retry) delay(id string) time.Duration {
	return r.b.Get(id)
}

func (r retry) reset(id string) {
	r.b.Reset(id)
}
