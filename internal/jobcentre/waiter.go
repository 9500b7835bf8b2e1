package jobcentre

// waiter is a pending "get" suspended across one or more queues, carrying
// a one-shot handoff slot (spec §3.2 "Waiter"). All fields are only ever
// touched under the owning Store's mutex.
type waiter struct {
	id     int64
	queues []string
	owner  any
	ch     chan *Job // capacity 1; written to at most once
}

// waiterRegistry tracks every live waiter, indexed both centrally and per
// queue, so waking one from a put on queue Q can remove it from every
// other queue it was also registered on (spec §4.5 "Waiter wake").
//
// Grounded on the Python reference implementation's
// waiters: Dict[str, Set[Future]], translated from a per-queue future set
// into Go channels plus a central id index for O(registered queues)
// removal.
type waiterRegistry struct {
	nextID  int64
	byQueue map[string]map[int64]*waiter
	byID    map[int64]*waiter
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{
		byQueue: make(map[string]map[int64]*waiter),
		byID:    make(map[int64]*waiter),
	}
}

// register creates a waiter bound to owner, listening on every name in
// queues, and indexes it under each.
func (r *waiterRegistry) register(queues []string, owner any) *waiter {
	r.nextID++
	w := &waiter{id: r.nextID, queues: queues, owner: owner, ch: make(chan *Job, 1)}
	r.byID[w.id] = w
	for _, q := range queues {
		if r.byQueue[q] == nil {
			r.byQueue[q] = make(map[int64]*waiter)
		}
		r.byQueue[q][w.id] = w
	}
	return w
}

// unregister removes w from every queue it was listening on and from the
// central index. Safe to call even if w was already removed (e.g. by a
// concurrent notify) — deleting an absent map key is a no-op.
func (r *waiterRegistry) unregister(w *waiter) {
	for _, q := range w.queues {
		delete(r.byQueue[q], w.id)
		if len(r.byQueue[q]) == 0 {
			delete(r.byQueue, q)
		}
	}
	delete(r.byID, w.id)
}

// countFor returns the number of waiters currently registered on queue.
func (r *waiterRegistry) countFor(queue string) int {
	return len(r.byQueue[queue])
}

// notify hands job to one waiter registered on job.Queue, if any is
// still live, setting the job's owner to that waiter's owner and
// unregistering it from every queue it was waiting on. Fairness: which
// waiter is picked among several on the same queue is unspecified (spec
// §4.5 "Fairness"). Returns false if no waiter is registered on the
// queue.
func (r *waiterRegistry) notify(job *Job) bool {
	set := r.byQueue[job.Queue]
	for _, w := range set {
		job.owner = w.owner
		w.ch <- job
		r.unregister(w)
		return true
	}
	return false
}
