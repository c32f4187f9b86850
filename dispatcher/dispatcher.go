// Package dispatcher owns the priority event queue and the subscription
// registry for one machine instance. A single processing loop drains the
// queue strictly by ascending priority value, FIFO within a band, and
// delivers each event to the subscriptions that match it. Enqueue is
// non-blocking and safe for concurrent producers.
package dispatcher

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-statemachine"
)

const defaultHistoryBound = 512

// Delivery is one bounded-history entry for a processed event.
type Delivery struct {
	Event     string
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Immediate bool
}

// Stats reports dispatcher activity and current queue pressure.
type Stats struct {
	Total      int
	Succeeded  int
	Failed     int
	ByEvent    map[string]int
	QueueDepth int
	HeadWait   time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger statemachine.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = statemachine.NormalizeLogger(logger)
	}
}

// WithHistoryBound caps the delivery history length.
func WithHistoryBound(bound int) Option {
	return func(d *Dispatcher) {
		if bound > 0 {
			d.bound = bound
		}
	}
}

// Dispatcher is the per-instance event mailbox and delivery loop.
type Dispatcher struct {
	mu      sync.Mutex
	queue   eventHeap
	seq     uint64
	subs    map[string]*subscription
	logger  statemachine.Logger
	history []Delivery
	bound   int

	total     int
	succeeded int
	failed    int
	byEvent   map[string]int

	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New constructs a dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:    make(map[string]*subscription),
		logger:  statemachine.NormalizeLogger(nil),
		bound:   defaultHistoryBound,
		byEvent: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch enqueues an event at the default priority. It returns once the
// event is queued, not once it is processed.
func (d *Dispatcher) Dispatch(event string, payload any) {
	d.DispatchPriority(event, payload, statemachine.PriorityDefault)
}

// DispatchPriority enqueues an event with an explicit priority; lower values
// are served first.
func (d *Dispatcher) DispatchPriority(event string, payload any, priority int) {
	evt := statemachine.Event{
		Name:       statemachine.NormalizeEvent(event),
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	d.seq++
	heap.Push(&d.queue, &queuedEvent{evt: evt, seq: d.seq})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// DispatchImmediate bypasses the queue and delivers synchronously in the
// caller's goroutine. Reserved for supervisory and emergency signals.
func (d *Dispatcher) DispatchImmediate(ctx context.Context, event string, payload any) error {
	evt := statemachine.Event{
		Name:       statemachine.NormalizeEvent(event),
		Payload:    payload,
		Priority:   statemachine.PriorityCritical,
		EnqueuedAt: time.Now().UTC(),
	}
	return d.deliver(ctx, evt, true)
}

// Subscribe registers a handler for one or more event names and returns the
// subscription id.
func (d *Dispatcher) Subscribe(events []string, handler Handler, opts ...SubscribeOption) (string, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("subscription requires at least one event")
	}
	if handler == nil {
		return "", fmt.Errorf("subscription requires a handler")
	}
	sub := newSubscription(events, handler, opts...)
	if len(sub.events) == 0 {
		return "", fmt.Errorf("subscription requires at least one event")
	}
	d.mu.Lock()
	d.subs[sub.id] = sub
	d.mu.Unlock()
	return sub.id, nil
}

// Unsubscribe removes a subscription, reporting whether it existed.
func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[id]; !ok {
		return false
	}
	delete(d.subs, id)
	return true
}

// Start launches the processing loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	done := d.done
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.loop(loopCtx)
	}()
	return nil
}

// Stop halts the processing loop and waits for it to exit. Queued events
// remain queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.running = false
	d.mu.Unlock()

	cancel()
	<-done
}

// Pending returns the current queue depth.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// Drain processes queued events synchronously until the queue is empty.
// Intended for tests and for immediate-mode machines without a running loop.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		item := d.pop()
		if item == nil {
			return
		}
		if err := d.deliver(ctx, item.evt, false); err != nil {
			d.logger.WithContext(ctx).Warn("event %s delivery failed: %v", item.evt.Name, err)
		}
	}
}

// History returns a copy of the bounded delivery history, oldest first.
func (d *Dispatcher) History() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Delivery, len(d.history))
	copy(out, d.history)
	return out
}

// Stats reports totals, per-event counts, queue depth, and the wait time of
// the head-of-queue event.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{
		Total:      d.total,
		Succeeded:  d.succeeded,
		Failed:     d.failed,
		ByEvent:    make(map[string]int, len(d.byEvent)),
		QueueDepth: d.queue.Len(),
	}
	for k, v := range d.byEvent {
		s.ByEvent[k] = v
	}
	if d.queue.Len() > 0 {
		s.HeadWait = time.Since(d.queue[0].evt.EnqueuedAt)
	}
	return s
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		item := d.pop()
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := d.deliver(ctx, item.evt, false); err != nil {
			d.logger.WithContext(ctx).Warn("event %s delivery failed: %v", item.evt.Name, err)
		}
	}
}

func (d *Dispatcher) pop() *queuedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&d.queue).(*queuedEvent)
}

func (d *Dispatcher) deliver(ctx context.Context, evt statemachine.Event, immediate bool) error {
	start := time.Now()

	d.mu.Lock()
	matched := make([]*subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.wants(evt) {
			matched = append(matched, sub)
		}
	}
	d.mu.Unlock()

	var errs error
	for _, sub := range matched {
		if err := sub.handler(ctx, evt); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if sub.once {
			d.Unsubscribe(sub.id)
		}
	}

	d.record(Delivery{
		Event:     evt.Name,
		Timestamp: start.UTC(),
		Duration:  time.Since(start),
		Success:   errs == nil,
		Error:     errorText(errs),
		Immediate: immediate,
	})
	return errs
}

func (d *Dispatcher) record(entry Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total++
	if entry.Success {
		d.succeeded++
	} else {
		d.failed++
	}
	d.byEvent[entry.Event]++
	d.history = append(d.history, entry)
	if len(d.history) > d.bound {
		d.history = d.history[len(d.history)-d.bound:]
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
