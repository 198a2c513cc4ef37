package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
	// Timeout bounds each delivery. Zero means no bound.
	Timeout time.Duration
}

// Dispatcher asynchronously forwards items to a Sink on a single worker so
// that callers never wait on delivery.
type Dispatcher[T any] struct {
	cfg       Config
	sink      Sink[T]
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	onError   func(T, error)
}

// NewDispatcher starts a dispatcher delivering to sink. onError, when
// non-nil, observes every failed delivery.
func NewDispatcher[T any](cfg Config, sink Sink[T], onError func(T, error)) *Dispatcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink[T]{}
	}

	d := &Dispatcher[T]{
		cfg:     cfg,
		sink:    sink,
		ch:      make(chan T, cfg.BufferSize),
		done:    make(chan struct{}),
		onError: onError,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.deliver(item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(item T) {
	defer d.inflight.Done()

	ctx := context.Background()
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	if err := d.sink.Deliver(ctx, item); err != nil {
		d.failed.Add(1)
		if d.onError != nil {
			d.onError(item, err)
		}
	}
}

// Emit queues item. It reports false when the item was not queued because the
// dispatcher is closed, the buffer is full in DropIfFull mode, or ctx ended.
func (d *Dispatcher[T]) Emit(ctx context.Context, item T) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.inflight.Add(1)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		d.inflight.Done()
		return false
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
	case <-d.done:
	}
	d.inflight.Done()
	return false
}

// Wait blocks until every queued item has been delivered.
func (d *Dispatcher[T]) Wait() {
	if d == nil {
		return
	}
	d.inflight.Wait()
}

// Close drains queued items and stops the worker. Safe to call repeatedly.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
		for {
			select {
			case <-d.ch:
				d.inflight.Done()
			default:
				return
			}
		}
	})
}

// Dropped returns how many items were discarded because the buffer was full.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many deliveries returned an error.
func (d *Dispatcher[T]) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
