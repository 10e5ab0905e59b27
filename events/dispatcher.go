package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink receives committed events. Implementations must tolerate being
// called from the dispatcher goroutine only.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Dispatcher drains events to sinks on its own goroutine so the session
// loop never waits on a collaborator.
type Dispatcher struct {
	ch      chan Event
	sinks   []Sink
	logger  *zap.Logger
	timeout time.Duration

	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// NewDispatcher starts a dispatcher with the given queue size.
func NewDispatcher(buffer int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ch:      make(chan Event, buffer),
		sinks:   sinks,
		logger:  logger,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Offer queues e without blocking. When the queue is full the event is
// dropped from the sinks (it stays in the session log) and false is returned.
func (d *Dispatcher) Offer(e Event) bool {
	select {
	case d.ch <- e:
		return true
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping event",
			zap.String("session", e.SessionID),
			zap.Int64("seq", e.Seq),
			zap.Int64("dropped", n))
		return false
	}
}

// Dropped reports how many events never reached the sinks.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.ch) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.ch {
		for _, s := range d.sinks {
			d.publish(s, e)
		}
	}
}

func (d *Dispatcher) publish(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", zap.Any("panic", r), zap.Int64("seq", e.Seq))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := s.Publish(ctx, e); err != nil {
		d.logger.Warn("event sink failed",
			zap.String("session", e.SessionID),
			zap.Int64("seq", e.Seq),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}
