// Package notify delivers change events to registered listeners from a
// single background loop, and runs the synchronous listener hooks of the
// store path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/radstore/internal/record"
)

// DefaultPollInterval bounds how long the loop sleeps when idle.
const DefaultPollInterval = 100 * time.Millisecond

type registration struct {
	id       int
	listener Listener
}

// Notifier owns the change queue and the listener list.
//
// Dispatch is serialized by dispatchMu. The listener list has its own
// lock and is replaced, never mutated, so a listener may register or
// unregister listeners from inside a callback; the change applies from the
// next event on.
type Notifier struct {
	dispatchMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []registration
	nextID      int

	queue        *eventQueue
	clock        *Clock
	now          func() time.Time
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPollInterval sets the idle sleep of the loop.
func WithPollInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.pollInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithClock sets the sequence source. Servers seed it with the last
// logged change so sequences keep counting across restarts.
func WithClock(c *Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

func New(opts ...Option) *Notifier {
	n := &Notifier{
		queue:        newEventQueue(),
		clock:        NewClockAt(0),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register appends l to the listener list and returns a handle for
// Unregister.
func (n *Notifier) Register(l Listener) int {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	n.nextID++
	next := make([]registration, len(n.listeners), len(n.listeners)+1)
	copy(next, n.listeners)
	n.listeners = append(next, registration{id: n.nextID, listener: l})
	return n.nextID
}

// Unregister removes a listener. Unknown handles are ignored.
func (n *Notifier) Unregister(id int) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	next := make([]registration, 0, len(n.listeners))
	for _, r := range n.listeners {
		if r.id != id {
			next = append(next, r)
		}
	}
	n.listeners = next
}

func (n *Notifier) snapshot() []registration {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()
	return n.listeners
}

// Enqueue stamps ev with the next sequence number and, when unset, the
// current time, then queues it. It never blocks and returns the stamped
// event; after shutdown the event is dropped.
func (n *Notifier) Enqueue(ev ChangeEvent) ChangeEvent {
	ev, ok := n.queue.Enqueue(ev, func(e *ChangeEvent) {
		e.Seq = n.clock.Next()
		if e.Date.IsZero() {
			e.Date = n.now()
		}
	})
	if !ok {
		n.logger.Debug("change dropped after shutdown", "type", ev.Type, "id", ev.PublicID)
	}
	return ev
}

// SignalChange queues a resource change.
func (n *Notifier) SignalChange(changeType ChangeType, publicID string, level record.Level) ChangeEvent {
	return n.Enqueue(ChangeEvent{Type: changeType, PublicID: publicID, Level: level})
}

// Pending returns how many events wait for dispatch.
func (n *Notifier) Pending() int {
	return n.queue.Len()
}

// FilterIncoming asks every listener whether ds may be stored. The first
// refusal wins. A failing filter is logged and counts as acceptance.
func (n *Notifier) FilterIncoming(ctx context.Context, ds *record.Dataset) bool {
	for _, r := range n.snapshot() {
		ok, err := r.listener.OnFilterIncoming(ctx, ds)
		if err != nil {
			n.logger.Error("incoming filter failed", "listener", r.id, "error", err)
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

// SignalStoredInstance runs OnStoredInstance of every listener in
// registration order. Failures are logged.
func (n *Notifier) SignalStoredInstance(ctx context.Context, instanceID string, ds *record.Dataset) {
	for _, r := range n.snapshot() {
		if err := r.listener.OnStoredInstance(ctx, instanceID, ds); err != nil {
			n.logger.Error("stored-instance listener failed", "listener", r.id, "instance", instanceID, "error", err)
		}
	}
}

// Run drains the queue until ctx is canceled. Events still queued at that
// point are dropped.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("change notifier started", "poll_interval", n.pollInterval)
	timer := time.NewTimer(n.pollInterval)
	defer timer.Stop()

	for {
		for _, ev := range n.queue.DrainAll() {
			if ctx.Err() != nil {
				break
			}
			n.dispatch(ctx, ev)
		}

		if ctx.Err() != nil {
			dropped := n.queue.Close()
			n.logger.Info("change notifier stopped", "dropped", dropped)
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.pollInterval)

		select {
		case <-ctx.Done():
		case <-n.queue.Wait():
		case <-timer.C:
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, ev ChangeEvent) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	for _, r := range n.snapshot() {
		if err := n.invoke(ctx, r.listener, ev); err != nil {
			n.logger.Error("change listener failed",
				"listener", r.id, "type", ev.Type, "id", ev.PublicID, "seq", ev.Seq, "error", err)
		}
	}
}

func (n *Notifier) invoke(ctx context.Context, l Listener, ev ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnChange(ctx, ev)
}

// JobMirror forwards job transitions into the change stream. It
// implements jobs.Observer.
type JobMirror struct {
	n *Notifier
}

func NewJobMirror(n *Notifier) *JobMirror {
	return &JobMirror{n: n}
}

func (m *JobMirror) OnJobSubmitted(id string) {
	m.n.Enqueue(ChangeEvent{Type: ChangeJobSubmitted, PublicID: id, Level: NoLevel})
}

func (m *JobMirror) OnJobSuccess(id string) {
	m.n.Enqueue(ChangeEvent{Type: ChangeJobSuccess, PublicID: id, Level: NoLevel})
}

func (m *JobMirror) OnJobFailure(id string) {
	m.n.Enqueue(ChangeEvent{Type: ChangeJobFailure, PublicID: id, Level: NoLevel})
}
