package event

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// asyncTask pairs an event with the subscription it is bound for.
type asyncTask struct {
	ctx   context.Context
	event Event
	sub   *subscription
}

// dispatcher runs a bounded worker pool for async deliveries.
type dispatcher struct {
	queueSize int
	workers   int
	timeout   time.Duration

	mu      sync.Mutex
	queue   chan asyncTask
	running atomic.Bool
	wg      sync.WaitGroup

	deliver func(ctx context.Context, e Event, sub *subscription)
}

func newDispatcher(queueSize, workers int, timeout time.Duration, deliver func(context.Context, Event, *subscription)) *dispatcher {
	return &dispatcher{
		queueSize: queueSize,
		workers:   workers,
		timeout:   timeout,
		deliver:   deliver,
	}
}

func (d *dispatcher) start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrAlreadyRunning
	}

	d.queue = make(chan asyncTask, d.queueSize)
	d.running.Store(true)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return nil
}

// stop closes the queue and waits for queued tasks to drain, or until the
// context is cancelled.
func (d *dispatcher) stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running.Store(false)
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue adds a delivery to the queue. Returns ErrQueueFull when the
// queue is at capacity.
func (d *dispatcher) enqueue(ctx context.Context, e Event, sub *subscription) error {
	if !d.running.Load() {
		return ErrNotRunning
	}

	select {
	case d.queue <- asyncTask{ctx: ctx, event: e, sub: sub}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()

	for task := range d.queue {
		select {
		case <-task.ctx.Done():
			continue
		default:
		}

		if d.timeout > 0 {
			ctx, cancel := context.WithTimeout(task.ctx, d.timeout)
			d.deliver(ctx, task.event, task.sub)
			cancel()
		} else {
			d.deliver(task.ctx, task.event, task.sub)
		}
	}
}

func (d *dispatcher) depth() int {
	if !d.running.Load() {
		return 0
	}
	return len(d.queue)
}

// capturePanicStack returns the current goroutine stack for panic reports.
func capturePanicStack() []byte {
	return debug.Stack()
}
