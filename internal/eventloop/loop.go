// Package eventloop runs posted events one at a time, in order, on a single
// goroutine. Everything that touches GATT objects after start-up (notification
// deliveries, discovery events, shutdown) goes through one Loop, so callbacks
// never run concurrently.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/groutine"
)

// Event is a unit of work run on the loop goroutine.
type Event func()

const (
	// DefaultQueueSize is used when New is given zero.
	DefaultQueueSize uint32 = 1024
	// MaxQueueSize guards against accidental misconfiguration.
	MaxQueueSize uint32 = 1 << 20
)

const (
	stateIdle uint32 = iota
	stateRunning
	stateStopped
)

var (
	// ErrStopped is returned when posting to a loop that has been stopped.
	ErrStopped = errors.New("event loop stopped")
	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("event loop already running")
	// ErrFull is returned by Post when the queue has no room. The event is not queued.
	ErrFull = errors.New("event queue full")
)

// Metrics are lock-free counters describing the loop's traffic.
type Metrics struct {
	Posted    int64
	Processed int64
	// Dropped events were rejected by Post because the queue was full.
	Dropped int64
	Panics  int64
}

// Loop is a single-consumer event dispatcher. Post and Send may be called from
// any goroutine. Queued events are never discarded: Post rejects an event when
// the queue is full, Send waits for room.
type Loop struct {
	queue  mpmc.RingBuffer[Event]
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	state  uint32
	logger *logrus.Logger

	// space is closed and replaced whenever the loop dequeues while senders wait.
	spaceMu sync.Mutex
	space   chan struct{}
	waiting int32

	posted    int64
	processed int64
	dropped   int64
	panics    int64
}

// New creates a loop with room for size pending events.
func New(size uint32, logger *logrus.Logger) (*Loop, error) {
	if size == 0 {
		size = DefaultQueueSize
	}
	if size > MaxQueueSize {
		return nil, fmt.Errorf("queue size %d exceeds maximum %d", size, MaxQueueSize)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Loop{
		queue:  mpmc.New[Event](size),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		space:  make(chan struct{}),
		logger: logger,
	}, nil
}

// Post queues ev for execution on the loop goroutine. It never blocks: when the
// queue is full ev is dropped, counted and ErrFull is returned.
func (l *Loop) Post(ev Event) error {
	err := l.enqueue(ev)
	if errors.Is(err, mpmc.ErrQueueFull) {
		atomic.AddInt64(&l.dropped, 1)
		l.logger.WithField("capacity", l.queue.Cap()).Warn("Event queue full, dropping event")
		return ErrFull
	}
	return err
}

// Send queues ev, waiting while the queue is full. It returns ctx.Err() when ctx
// ends first and ErrStopped when the loop shuts down first. It must not be called
// from the loop goroutine.
func (l *Loop) Send(ctx context.Context, ev Event) error {
	atomic.AddInt32(&l.waiting, 1)
	defer atomic.AddInt32(&l.waiting, -1)

	for {
		freed := l.freed()
		err := l.enqueue(ev)
		if !errors.Is(err, mpmc.ErrQueueFull) {
			return err
		}
		select {
		case <-freed:
		case <-l.done:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Invoke runs fn on the loop and waits for it to finish, or for ctx to end.
// It must not be called from the loop goroutine.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Send(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run it just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(ev Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	if atomic.LoadUint32(&l.state) == stateStopped {
		return ErrStopped
	}

	if err := l.queue.Enqueue(ev); err != nil {
		if errors.Is(err, mpmc.ErrQueueFull) {
			return err
		}
		return fmt.Errorf("enqueue event: %w", err)
	}
	atomic.AddInt64(&l.posted, 1)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loop) freed() <-chan struct{} {
	l.spaceMu.Lock()
	defer l.spaceMu.Unlock()
	return l.space
}

// signalSpace wakes every Send waiting for room.
func (l *Loop) signalSpace() {
	if atomic.LoadInt32(&l.waiting) == 0 {
		return
	}
	l.spaceMu.Lock()
	close(l.space)
	l.space = make(chan struct{})
	l.spaceMu.Unlock()
}

// Run dispatches events until ctx is done or Stop is called. Pending events are
// drained before Run returns. It returns ctx.Err() on cancellation and nil after Stop.
func (l *Loop) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&l.state, stateIdle, stateRunning) {
		if atomic.LoadUint32(&l.state) == stateStopped {
			return ErrStopped
		}
		return ErrRunning
	}
	defer close(l.done)

	l.logger.WithField("goroutine", groutine.Name(ctx)).Debug("Event loop started")
	for {
		l.drain()
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.stop:
			l.shutdown()
			return nil
		case <-l.wake:
		}
	}
}

// Start runs the loop on its own named goroutine and returns immediately.
// The returned channel is closed when Run has returned.
func (l *Loop) Start(ctx context.Context) <-chan struct{} {
	return groutine.Go(ctx, "event-loop", func(ctx context.Context) {
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.WithError(err).Debug("Event loop exited")
		}
	})
}

// Stop asks Run to return after draining pending events. Once the loop has shut
// down, Post and Send fail with ErrStopped. Stop may be called more than once, from any
// goroutine or from an event.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.stop)
	})
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Metrics returns a snapshot of the counters.
func (l *Loop) Metrics() Metrics {
	return Metrics{
		Posted:    atomic.LoadInt64(&l.posted),
		Processed: atomic.LoadInt64(&l.processed),
		Dropped:   atomic.LoadInt64(&l.dropped),
		Panics:    atomic.LoadInt64(&l.panics),
	}
}

// Overruns returns how many posted events were dropped because the queue was full.
func (l *Loop) Overruns() int64 {
	return atomic.LoadInt64(&l.dropped)
}

func (l *Loop) shutdown() {
	atomic.StoreUint32(&l.state, stateStopped)
	l.drain()
	l.logger.WithField("processed", atomic.LoadInt64(&l.processed)).Debug("Event loop stopped")
}

func (l *Loop) drain() {
	for !l.queue.IsEmpty() {
		ev, err := l.queue.Dequeue()
		if err != nil {
			// Lost the race with IsEmpty; the next wake retries.
			return
		}
		l.signalSpace()
		l.dispatch(ev)
	}
}

func (l *Loop) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&l.panics, 1)
			l.logger.WithField("panic", r).Error("Event panicked")
		}
	}()
	if ev != nil {
		ev()
	}
	atomic.AddInt64(&l.processed, 1)
}
