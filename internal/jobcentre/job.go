package jobcentre

import "encoding/json"

// Job is a single unit of work tracked by a Store (spec §3.2). Once
// created, a Job's ID, Priority, Queue and Payload never change; only its
// deleted flag and owner move it between live, assigned, and dead.
type Job struct {
	// ID uniquely identifies the job for its entire existence. Once
	// deleted, an ID is never reused or re-observed.
	ID int64

	// Priority orders jobs within a queue: higher values are served first.
	Priority int

	// Queue is the name this job was put on.
	Queue string

	// Payload is the opaque job body, passed through unmodified.
	Payload json.RawMessage

	// insertSeq breaks priority ties in FIFO order. Refreshed whenever a
	// job is re-homed via abort, so newer jobs don't get pushed behind an
	// aborted one at the same priority (spec §4.5 "re-home").
	insertSeq int64

	// deleted marks a job permanently dead. A deleted job is skipped
	// lazily wherever it's found — in a queue's heap or pending in a
	// worker's owned set — rather than hunted down and removed eagerly.
	deleted bool

	// owner identifies the worker currently holding this job, or nil if
	// it is unassigned and live in its queue. Compared by equality, so
	// callers must pass a stable, comparable identity (a *ClientSession
	// pointer in this package).
	owner any
}

// response renders the job as the payload of a successful "get" reply
// (spec §4.6: `{status, id, pri, queue, job}`).
func (j *Job) response() jobResponse {
	return jobResponse{
		Status: statusOK,
		ID:     j.ID,
		Pri:    j.Priority,
		Queue:  j.Queue,
		Job:    j.Payload,
	}
}
