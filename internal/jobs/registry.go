package jobs

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roach88/radstore/internal/fault"
)

var (
	errCanceled = errors.New("job canceled")
	errStopped  = errors.New("job registry closed")
)

type handler struct {
	id       string
	job      Job
	priority int
	seq      uint64

	state     State
	err       error
	created   time.Time
	started   time.Time
	completed time.Time

	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}

	heapIndex int
}

func (h *handler) info() Info {
	info := Info{
		ID:             h.id,
		Type:           h.job.Type(),
		Priority:       h.priority,
		State:          h.state,
		CreationTime:   h.created,
		StartTime:      h.started,
		CompletionTime: h.completed,
	}
	if h.err != nil {
		info.Failure = h.err.Error()
	}
	return info
}

// pendingQueue orders pending jobs by priority, then by submission.
type pendingQueue []*handler

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *pendingQueue) Push(x any) {
	h := x.(*handler)
	h.heapIndex = len(*q)
	*q = append(*q, h)
}

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.heapIndex = -1
	*q = old[:n-1]
	return h
}

// Registry is the job table. It is safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	jobs         map[string]*handler
	pending      pendingQueue
	completed    []*handler
	maxCompleted int
	observers    []Observer
	seq          uint64
	ids          IDGenerator
	now          func() time.Time

	signal chan struct{}
	closed bool
	stop   chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(ids IDGenerator) *Registry {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Registry{
		jobs:   make(map[string]*handler),
		ids:    ids,
		now:    time.Now,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// AddObserver registers o for every later transition.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) observersLocked() []Observer {
	return append([]Observer(nil), r.observers...)
}

// SetMaxCompletedJobs bounds how many finished jobs are remembered; the
// oldest are forgotten first. Zero keeps them all.
func (r *Registry) SetMaxCompletedJobs(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxCompleted = n
	r.forgetLocked()
}

// Submit queues job and returns its id. Higher priorities run first.
func (r *Registry) Submit(job Job, priority int) (string, error) {
	h, err := r.submit(r.ids.Generate(), job, priority, time.Time{})
	if err != nil {
		return "", err
	}
	return h.id, nil
}

func (r *Registry) submit(id string, job Job, priority int, created time.Time) (*handler, error) {
	if job == nil {
		return nil, fault.New(fault.CodeParameterOutOfRange, "nil job")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fault.Wrap(fault.CodeSequencing, errStopped, "submit %s", job.Type())
	}
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return nil, fault.New(fault.CodeParameterOutOfRange, "duplicate job id %s", id)
	}
	if created.IsZero() {
		created = r.now()
	}
	r.seq++
	h := &handler{
		id:       id,
		job:      job,
		priority: priority,
		seq:      r.seq,
		state:    StatePending,
		created:  created,
		done:     make(chan struct{}),
	}
	r.jobs[id] = h
	heap.Push(&r.pending, h)
	r.notifyLocked()
	observers := r.observersLocked()
	r.mu.Unlock()

	for _, o := range observers {
		o.OnJobSubmitted(id)
	}
	return h, nil
}

// SubmitAndWait queues job and blocks until it finishes, returning the
// job's own error on failure.
func (r *Registry) SubmitAndWait(ctx context.Context, job Job, priority int) (string, error) {
	h, err := r.submit(r.ids.Generate(), job, priority, time.Time{})
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	done := h.done
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return h.id, ctx.Err()
	case <-done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return h.id, h.err
}

// Resubmit moves a failed job back to Pending.
func (r *Registry) Resubmit(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.jobs[id]
	if !ok {
		return fault.New(fault.CodeNotFound, "unknown job %s", id)
	}
	if h.state != StateFailed {
		return fault.New(fault.CodeSequencing, "job %s is %s, only failed jobs can be resubmitted", id, h.state)
	}

	r.removeCompletedLocked(h)
	h.state = StatePending
	h.err = nil
	h.canceled = false
	h.started = time.Time{}
	h.completed = time.Time{}
	h.done = make(chan struct{})
	heap.Push(&r.pending, h)
	r.notifyLocked()
	return nil
}

// Cancel fails a pending job at once. A running job has its context
// canceled and fails when it returns.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	h, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fault.New(fault.CodeNotFound, "unknown job %s", id)
	}

	switch h.state {
	case StatePending:
		heap.Remove(&r.pending, h.heapIndex)
		h.canceled = true
		r.completeLocked(h, errCanceled)
		observers := r.observersLocked()
		r.mu.Unlock()
		for _, o := range observers {
			o.OnJobFailure(id)
		}
		return nil
	case StateRunning:
		h.canceled = true
		h.cancel()
		r.mu.Unlock()
		return nil
	default:
		state := h.state
		r.mu.Unlock()
		return fault.New(fault.CodeSequencing, "job %s is already %s", id, state)
	}
}

// Clear forgets every finished job.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.completed)
	for _, h := range r.completed {
		delete(r.jobs, h.id)
	}
	r.completed = nil
	return n
}

// Info returns a snapshot of one job.
func (r *Registry) Info(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[id]
	if !ok {
		return Info{}, false
	}
	return h.info(), true
}

// List returns every known job in submission order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	handlers := make([]*handler, 0, len(r.jobs))
	for _, h := range r.jobs {
		handlers = append(handlers, h)
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].seq < handlers[j].seq })
	infos := make([]Info, len(handlers))
	for i, h := range handlers {
		infos[i] = h.info()
	}
	r.mu.Unlock()
	return infos
}

// CountPending returns how many jobs wait for a worker.
func (r *Registry) CountPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// next blocks until a pending job is available, marks it Running and
// returns it with a context that Cancel will cancel.
func (r *Registry) next(ctx context.Context) (*handler, context.Context, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, nil, errStopped
		}
		if r.pending.Len() > 0 {
			h := heap.Pop(&r.pending).(*handler)
			h.state = StateRunning
			h.started = r.now()
			jobCtx, cancel := context.WithCancel(ctx)
			h.cancel = cancel
			if r.pending.Len() > 0 {
				r.notifyLocked()
			}
			r.mu.Unlock()
			return h, jobCtx, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-r.stop:
			return nil, nil, errStopped
		case <-r.signal:
		}
	}
}

// finish records the outcome of a running job.
func (r *Registry) finish(h *handler, runErr error) {
	r.mu.Lock()
	h.cancel()
	if h.canceled {
		runErr = errCanceled
	}
	r.completeLocked(h, runErr)
	observers := r.observersLocked()
	r.mu.Unlock()

	for _, o := range observers {
		if runErr == nil {
			o.OnJobSuccess(h.id)
		} else {
			o.OnJobFailure(h.id)
		}
	}
}

// requeue returns a job interrupted by engine shutdown to Pending, unless
// it was canceled on purpose.
func (r *Registry) requeue(h *handler) {
	r.mu.Lock()
	if h.canceled {
		r.mu.Unlock()
		r.finish(h, errCanceled)
		return
	}
	h.cancel()
	h.state = StatePending
	h.started = time.Time{}
	heap.Push(&r.pending, h)
	r.mu.Unlock()
}

func (r *Registry) completeLocked(h *handler, err error) {
	if err == nil {
		h.state = StateSuccess
	} else {
		h.state = StateFailed
	}
	h.err = err
	h.completed = r.now()
	r.completed = append(r.completed, h)
	close(h.done)
	r.forgetLocked()
}

func (r *Registry) forgetLocked() {
	if r.maxCompleted <= 0 {
		return
	}
	for len(r.completed) > r.maxCompleted {
		delete(r.jobs, r.completed[0].id)
		r.completed[0] = nil
		r.completed = r.completed[1:]
	}
}

func (r *Registry) removeCompletedLocked(h *handler) {
	for i, c := range r.completed {
		if c == h {
			r.completed = append(r.completed[:i], r.completed[i+1:]...)
			return
		}
	}
}

func (r *Registry) notifyLocked() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// close wakes every worker; later submissions fail.
func (r *Registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.stop)
}

type snapshot struct {
	id       string
	job      Job
	priority int
	state    State
	created  time.Time
}

// unfinished returns the jobs that have not reached a terminal state, in
// submission order.
func (r *Registry) unfinished() []snapshot {
	r.mu.Lock()
	var handlers []*handler
	for _, h := range r.jobs {
		if !h.state.Terminal() {
			handlers = append(handlers, h)
		}
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].seq < handlers[j].seq })
	out := make([]snapshot, len(handlers))
	for i, h := range handlers {
		out[i] = snapshot{id: h.id, job: h.job, priority: h.priority, state: h.state, created: h.created}
	}
	r.mu.Unlock()
	return out
}
