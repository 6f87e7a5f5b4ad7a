package validator

import (
	"context"
	"sync"
)

// workQueue is an unbounded FIFO of queries. It tracks outstanding work
// (queued plus in flight) and closes itself when that reaches zero.
type workQueue struct {
	mu          sync.Mutex
	items       []*Query
	outstanding int
	closed      bool
	ready       chan struct{}
	done        chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push adds a query and counts it as outstanding.
func (w *workQueue) push(q *Query) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.items = append(w.items, q)
	w.outstanding++
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// pop blocks until a query is available. It returns false once the queue is
// closed.
func (w *workQueue) pop(ctx context.Context) (*Query, bool, error) {
	for {
		w.mu.Lock()
		if len(w.items) > 0 {
			q := w.items[0]
			w.items[0] = nil
			w.items = w.items[1:]
			w.mu.Unlock()
			return q, true, nil
		}
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-w.ready:
		case <-w.done:
		}
	}
}

// finish marks one outstanding query as resolved.
func (w *workQueue) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outstanding--
	if w.outstanding <= 0 {
		w.closeLocked()
	}
}

// closeIfIdle closes the queue when nothing was ever pushed.
func (w *workQueue) closeIfIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outstanding == 0 {
		w.closeLocked()
	}
}

func (w *workQueue) closeLocked() {
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

// runningSet holds submitted query tasks that have not reached a terminal
// state.
type runningSet struct {
	mu    sync.Mutex
	order []string
	tasks map[string]*Query
}

func newRunningSet() *runningSet {
	return &runningSet{tasks: make(map[string]*Query)}
}

func (r *runningSet) add(taskID string, q *Query) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskID] = q
	r.order = append(r.order, taskID)
}

func (r *runningSet) get(taskID string) *Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[taskID]
}

func (r *runningSet) remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	for i, id := range r.order {
		if id == taskID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// next returns up to limit task ids and rotates them to the back so that
// every task gets polled when more than limit are running.
func (r *runningSet) next(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(limit, len(r.order))
	ids := make([]string, n)
	copy(ids, r.order[:n])
	r.order = append(r.order[n:], ids...)
	return ids
}

func (r *runningSet) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
