package jobcentre

import "container/heap"

// priorityQueue is a max-heap of *Job ordered by (Priority desc,
// insertSeq asc), tolerant of stale entries: jobs that have been deleted
// or handed to a worker since being pushed are skipped lazily whenever
// they surface at the top, rather than removed eagerly when they go
// stale (spec §4.5: "Lazy heap cleanup occurs on next pop").
type priorityQueue struct {
	items []*Job
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{}
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.items[i].Priority != pq.items[j].Priority {
		return pq.items[i].Priority > pq.items[j].Priority
	}
	return pq.items[i].insertSeq < pq.items[j].insertSeq
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) { pq.items = append(pq.items, x.(*Job)) }

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	pq.items = old[:n-1]
	return job
}

// push inserts job into the heap. Callers hold the Store's mutex.
func (pq *priorityQueue) push(job *Job) { heap.Push(pq, job) }

// peekReady returns the highest-priority live job without removing it,
// discarding any stale (deleted or assigned) entries it finds ahead of
// it. Returns false if the queue has no live job.
func (pq *priorityQueue) peekReady() (*Job, bool) {
	for pq.Len() > 0 {
		top := pq.items[0]
		if top.deleted || top.owner != nil {
			heap.Pop(pq)
			continue
		}
		return top, true
	}
	return nil, false
}

// popReady removes and returns the highest-priority live job, discarding
// any stale entries encountered along the way.
func (pq *priorityQueue) popReady() (*Job, bool) {
	for pq.Len() > 0 {
		job := heap.Pop(pq).(*Job)
		if job.deleted || job.owner != nil {
			continue
		}
		return job, true
	}
	return nil, false
}
