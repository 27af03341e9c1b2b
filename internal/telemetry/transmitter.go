package telemetry

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultListenAddr = ":1234"
	DefaultHeartbeat  = 500 * time.Millisecond
	writeTimeout      = time.Second
)

type TransmitterConfig struct {
	Addr    string
	Backoff Backoff
}

// Transmitter serves one receiver at a time, streaming the queue to it.
// Listen, accept and write failures are retried with capped exponential
// backoff; none of them reach the producers of the queue.
type Transmitter struct {
	cfg   TransmitterConfig
	queue *Queue
	retry retry

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}

	// OnConnect, when set, is called for every accepted receiver.
	OnConnect func(remote net.Addr)
}

func NewTransmitter(cfg TransmitterConfig, q *Queue) *Transmitter {
	if cfg.Addr == "" {
		cfg.Addr = DefaultListenAddr
	}
	return &Transmitter{
		cfg:   cfg,
		queue: q,
		retry: newRetry(cfg.Backoff),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the transmitter is listening.
func (t *Transmitter) Ready() <-chan struct{} {
	return t.ready
}

// Addr is the bound listen address, nil before Ready.
func (t *Transmitter) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Run listens and serves until ctx is done.
func (t *Transmitter) Run(ctx context.Context) error {
	for {
		ln, err := net.Listen("tcp", t.cfg.Addr)
		if err != nil {
			log.WithFields(log.Fields{
				"addr":  t.cfg.Addr,
				"retry": t.retry.delay("listen"),
			}).WithError(err).Warn("telemetry listen failed")
			if err := t.retry.wait(ctx, "listen"); err != nil {
				return nil
			}
			continue
		}
		t.retry.reset("listen")
		t.setAddr(ln.Addr())
		log.WithField("addr", ln.Addr().String()).Info("telemetry listening")

		if err := t.serve(ctx, ln); err != nil {
			return nil
		}
	}
}

func (t *Transmitter) setAddr(a net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addr = a
	select {
	case <-t.ready:
	default:
		close(t.ready)
	}
}

// serve returns ctx.Err() on shutdown and nil when the listener must be
// recreated.
func (t *Transmitter) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("telemetry accept failed")
			if err := t.retry.wait(ctx, "accept"); err != nil {
				return err
			}
			continue
		}
		t.retry.reset("accept")
		log.WithField("remote", conn.RemoteAddr().String()).Info("telemetry receiver connected")
		if t.OnConnect != nil {
			t.OnConnect(conn.RemoteAddr())
		}

		if err := t.stream(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithFields(log.Fields{
				"remote": conn.RemoteAddr().String(),
				"retry":  t.retry.delay("write"),
			}).WithError(err).Warn("telemetry receiver lost")
			if err := t.retry.wait(ctx, "write"); err != nil {
				return err
			}
		}
	}
}

func (t *Transmitter) stream(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-t.queue.C():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := WriteFrame(conn, m); err != nil {
				return err
			}
			t.retry.reset("write")
		}
	}
}

// Heartbeat pushes Alive into q every interval until ctx is done.
func Heartbeat(ctx context.Context, q *Queue, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.TryPush(Alive{})
		}
	}
}
