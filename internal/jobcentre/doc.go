// Package jobcentre implements a priority-based in-memory job queue
// accessed over line-delimited JSON: a Job Store shared by every
// connection, a priority heap per named queue tolerant of stale entries,
// a cross-queue Waiter Registry for blocking retrieval, and a
// per-connection Client Session that tracks and reclaims its owned jobs
// on disconnect.
package jobcentre
