package alert

import (
	"context"
	"errors"
	"sync"

	"headless-sentinel/internal/types"
)

// ErrRunnerClosed is returned once Close has been called.
var ErrRunnerClosed = errors.New("alert runner closed")

// Ticket reserves a position in the evaluation order
type Ticket uint64

type batch struct {
	events []types.Event
	reply  chan []types.ActionResult
}

// Runner serializes evaluations on one goroutine. Batches run in ticket
// order, so a cycle that reserved first is evaluated first even if it
// delivers later.
type Runner struct {
	engine *Engine

	mu          sync.Mutex
	nextTicket  uint64
	nextDeliver uint64
	pending     map[uint64]batch
	queue       []batch
	closed      bool

	wake chan struct{}
	done chan struct{}
}

func NewRunner(engine *Engine) *Runner {
	return &Runner{
		engine:  engine,
		pending: make(map[uint64]batch),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start runs the evaluation loop until Close drains the queue.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		r.mu.Lock()
		work := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, b := range work {
			res := r.engine.Evaluate(ctx, b.events)
			if b.reply != nil {
				b.reply <- res
			}
		}

		if len(work) == 0 {
			if closed {
				return
			}
			<-r.wake
		}
	}
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Reserve takes the next ticket. Every ticket must be delivered.
func (r *Runner) Reserve() Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Ticket(r.nextTicket)
	r.nextTicket++
	return t
}

// Deliver hands over the events for t. Empty batches still advance the order.
func (r *Runner) Deliver(t Ticket, events []types.Event) error {
	return r.deliver(t, batch{events: events})
}

func (r *Runner) deliver(t Ticket, b batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	r.pending[uint64(t)] = b
	moved := false
	for {
		next, ok := r.pending[r.nextDeliver]
		if !ok {
			break
		}
		delete(r.pending, r.nextDeliver)
		r.nextDeliver++
		if len(next.events) > 0 || next.reply != nil {
			r.queue = append(r.queue, next)
			moved = true
		}
	}
	if moved {
		r.signal()
	}
	return nil
}

// Submit queues events behind everything reserved so far.
func (r *Runner) Submit(events []types.Event) error {
	return r.Deliver(r.Reserve(), events)
}

// Evaluate queues events and waits for their results.
func (r *Runner) Evaluate(ctx context.Context, events []types.Event) ([]types.ActionResult, error) {
	reply := make(chan []types.ActionResult, 1)
	if err := r.deliver(r.Reserve(), batch{events: events, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting batches, waits for queued ones to finish. Tickets
// reserved but never delivered are abandoned.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
	}
	r.mu.Unlock()
	r.signal()
	<-r.done
}
