package jobcentre

import (
	"context"
	"encoding/json"
	"sync"
)

// Store is the single Job Store shared by every connection on a Job
// Centre server (spec §4.5). Every exported method is atomic with
// respect to a single mutex — there is no finer-grained locking, per
// spec §5's "single logical lock" model.
type Store struct {
	mu sync.Mutex

	nextID  int64
	nextSeq int64

	jobs    map[int64]*Job
	queues  map[string]*priorityQueue
	waiters *waiterRegistry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[int64]*Job),
		queues:  make(map[string]*priorityQueue),
		waiters: newWaiterRegistry(),
	}
}

func (s *Store) queueFor(name string) *priorityQueue {
	q, ok := s.queues[name]
	if !ok {
		q = newPriorityQueue()
		s.queues[name] = q
	}
	return q
}

// Put creates a job on queue with the given priority and payload. If a
// waiter is already registered on queue, the job is handed to it directly
// and never touches the heap (spec §8 invariant 3); otherwise it is
// pushed onto queue's priority heap. Returns the new job's id.
func (s *Store) Put(queue string, priority int, payload json.RawMessage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.nextSeq++
	job := &Job{
		ID:        s.nextID,
		Priority:  priority,
		Queue:     queue,
		Payload:   payload,
		insertSeq: s.nextSeq,
	}
	s.jobs[job.ID] = job

	if !s.waiters.notify(job) {
		s.queueFor(queue).push(job)
	}
	return job.ID
}

// tryGetLocked scans queues for the highest-priority live job across all
// of them, ties broken by insertion sequence, pops it, assigns owner, and
// returns it. Callers must hold s.mu.
func (s *Store) tryGetLocked(queues []string, owner any) (*Job, bool) {
	var bestQueue string
	var bestJob *Job

	for _, name := range queues {
		q, ok := s.queues[name]
		if !ok {
			continue
		}
		top, ok := q.peekReady()
		if !ok {
			continue
		}
		if bestJob == nil || top.Priority > bestJob.Priority ||
			(top.Priority == bestJob.Priority && top.insertSeq < bestJob.insertSeq) {
			bestJob = top
			bestQueue = name
		}
	}

	if bestJob == nil {
		return nil, false
	}

	job, ok := s.queueFor(bestQueue).popReady()
	if !ok {
		// The top entry went stale between peek and pop only if another
		// goroutine could mutate the heap concurrently, which the single
		// mutex rules out; kept as a defensive fallback.
		return nil, false
	}
	job.owner = owner
	return job, true
}

// Get retrieves the highest-priority live job across the named queues
// and assigns it to owner (spec §4.5 "get"). If none is immediately
// available and wait is true, the call suspends until a put or abort
// hands off a matching job, or ctx is cancelled — in which case any job
// that arrives in the same instant as the cancellation is re-homed rather
// than leaked (spec §5 "Cancellation semantics").
func (s *Store) Get(ctx context.Context, queues []string, wait bool, owner any) (*Job, bool) {
	s.mu.Lock()
	job, ok := s.tryGetLocked(queues, owner)
	if ok || !wait {
		s.mu.Unlock()
		return job, ok
	}

	w := s.waiters.register(queues, owner)
	s.mu.Unlock()

	select {
	case job := <-w.ch:
		return job, true
	case <-ctx.Done():
		return s.cancelWaiter(w)
	}
}

// cancelWaiter unregisters w and drains any job that was handed to it in
// the race between the waiter's context cancelling and a concurrent
// notify. A drained job is handed to another waiter if one exists,
// otherwise pushed back onto its queue; unlike Abort, it keeps its
// original insertion sequence.
func (s *Store) cancelWaiter(w *waiter) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case job := <-w.ch:
		job.owner = nil
		if !s.waiters.notify(job) {
			s.queueFor(job.Queue).push(job)
		}
	default:
		s.waiters.unregister(w)
	}
	return nil, false
}

// Delete permanently removes a job (spec §4.5 "delete"). Returns false if
// the job is unknown or already deleted. Lazy heap cleanup happens on the
// queue's next pop; an owning worker's abort of a deleted job fails
// naturally since the job is gone from s.jobs.
func (s *Store) Delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.deleted {
		return false
	}
	job.deleted = true
	job.owner = nil
	delete(s.jobs, id)
	return true
}

// Abort releases a job from owner back to circulation (spec §4.5
// "abort"). Succeeds only if the job exists, is not deleted, and is
// currently owned by owner; any other case returns false. On success the
// job is re-homed with a fresh insertion sequence: handed directly to a
// waiter on its queue if one is registered, otherwise pushed back onto
// the heap.
func (s *Store) Abort(id int64, owner any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.deleted || job.owner != owner {
		return false
	}

	job.owner = nil
	s.nextSeq++
	job.insertSeq = s.nextSeq

	if !s.waiters.notify(job) {
		s.queueFor(job.Queue).push(job)
	}
	return true
}

// AbortAll aborts every job in ids that is still owned by owner, ignoring
// ids that are no longer owned by it (already deleted, or already
// reassigned). Used to reclaim a disconnecting client's in-flight jobs
// (spec §4.6).
func (s *Store) AbortAll(owner any, ids []int64) {
	for _, id := range ids {
		s.Abort(id, owner)
	}
}

// QueueDepths returns the number of live-or-stale entries remaining in
// each queue's heap, for the admin/metrics surface. This is the heap
// size, not the count of genuinely live (unassigned, undeleted) jobs —
// stale entries are only pruned lazily on pop.
func (s *Store) QueueDepths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		depths[name] = q.Len()
	}
	return depths
}

// JobCount returns the total number of live (undeleted) jobs tracked by
// the store, assigned or not.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// WaiterCount returns the number of waiters currently registered on
// queue. Exposed for tests that need to observe a blocking Get actually
// parking before exercising cancellation.
func (s *Store) WaiterCount(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.countFor(queue)
}
