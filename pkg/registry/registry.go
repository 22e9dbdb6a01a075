// Package registry tracks live runs and fans pipeline events out to
// subscribers. It serializes operations per run so two callers cannot drive
// or resume the same run concurrently, and owns the cancel functions for
// runs that are being driven.
package registry

import (
	"context"
	"errors"
	"sync"

	"foundry/pkg/logx"
	"foundry/pkg/proto"
)

// ErrRunBusy is returned when an operation is attempted on a run that
// another caller is currently driving or resuming.
var ErrRunBusy = errors.New("run is busy")

// subscriber receives events for one run, or for all runs when runID is "".
// Events are staged in an unbounded ordered queue and delivered by a
// dedicated drain goroutine, so a slow reader delays only itself and never
// loses a transition.
type subscriber struct {
	runID string
	ch    chan proto.Event

	mu    sync.Mutex
	queue []proto.Event
	wake  chan struct{} // buffered 1, signals the drainer
	stop  chan struct{} // closed on unsubscribe
}

func (s *subscriber) enqueue(ev proto.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain delivers queued events in order until unsubscribed. Only the drainer
// closes the delivery channel, so publishing can never hit a closed channel.
func (s *subscriber) drain() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
			case <-s.stop:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// Registry implements engine.EventSink and hands out per-run leases.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*runHandle
	subs    map[int]*subscriber
	nextSub int
	logger  *logx.Logger
}

type runHandle struct {
	busy   bool
	cancel context.CancelFunc
}

func New() *Registry {
	return &Registry{
		runs:   make(map[string]*runHandle),
		subs:   make(map[int]*subscriber),
		logger: logx.NewLogger("registry"),
	}
}

// Acquire takes the per-run lease. The returned release function must be
// called exactly once. Returns ErrRunBusy without blocking when another
// operation holds the lease.
func (r *Registry) Acquire(runID string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.runs[runID]
	if h == nil {
		h = &runHandle{}
		r.runs[runID] = h
	}
	if h.busy {
		return nil, ErrRunBusy
	}
	h.busy = true
	return func() { r.release(runID) }, nil
}

func (r *Registry) release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.runs[runID]; h != nil {
		h.busy = false
		h.cancel = nil
	}
}

// Track registers a cancel function for a run being driven under an active
// lease, making it reachable from Cancel.
func (r *Registry) Track(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.runs[runID]; h != nil {
		h.cancel = cancel
	}
}

// Cancel aborts the in-flight drive of a run, if any. Returns true when a
// cancel function was invoked. State already persisted is untouched.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.runs[runID]
	if h == nil || h.cancel == nil {
		return false
	}
	r.logger.Info("Cancelling in-flight drive of run %s", runID)
	h.cancel()
	h.cancel = nil
	return true
}

// Subscribe returns a channel of events for runID, or for every run when
// runID is empty. Every event published while the subscription is active is
// delivered, in publish order; a reader that falls behind backs up its own
// queue, never the pipeline or other subscribers. Call the returned
// unsubscribe function to stop delivery and close the channel; events still
// queued at that point are discarded.
func (r *Registry) Subscribe(runID string, buffer int) (<-chan proto.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{
		runID: runID,
		ch:    make(chan proto.Event, buffer),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go sub.drain()

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(sub.stop)
		})
	}
}

// Publish queues an event for every matching subscriber. Queueing never
// blocks the pipeline; delivery happens on each subscriber's drain
// goroutine.
func (r *Registry) Publish(ev proto.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.runID == "" || sub.runID == ev.RunID {
			sub.enqueue(ev)
		}
	}
}
