package telemetry

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/util/flowcontrol"
)

// DefaultQueueCapacity is the number of records buffered for the
// transmitter.
const DefaultQueueCapacity = 4

// Queue is a bounded multi-producer single-consumer message queue. Pushes
// never block: a full queue drops the message.
type Queue struct {
	ch      chan Message
	dropped atomic.Uint64
	warn    flowcontrol.RateLimiter
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ch:   make(chan Message, capacity),
		warn: flowcontrol.NewTokenBucketRateLimiter(1, 1),
	}
}

// TryPush enqueues m and reports whether it fit.
func (q *Queue) TryPush(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
	}
	n := q.dropped.Add(1)
	if q.warn.TryAccept() {
		log.WithFields(log.Fields{"dropped": n, "tag": m.Tag()}).Warn("telemetry queue full")
	}
	return false
}

// C is the consumer side.
func (q *Queue) C() <-chan Message {
	return q.ch
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Len() int {
	return len(q.ch)
}
