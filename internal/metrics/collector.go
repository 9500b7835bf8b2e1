package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace         = "protocore"
	subsystemLRCP     = "lrcp"
	subsystemJobQueue = "jobcentre"
)

// Label names.
const (
	labelVerb   = "verb"
	labelStatus = "status"
)

// -------------------------------------------------------------------------
// Collector — Prometheus metrics for LRCP and Job Centre
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric exposed by protocored.
type Collector struct {
	// LRCPSessions tracks the number of active LRCP sessions, moved by
	// RegisterSession and UnregisterSession. protocored calls neither, so
	// in the daemon this gauge stays at zero.
	LRCPSessions prometheus.Gauge

	// LRCPPacketsSent counts UDP datagrams transmitted by the LRCP server.
	LRCPPacketsSent prometheus.Counter

	// LRCPPacketsReceived counts UDP datagrams accepted by the LRCP server.
	LRCPPacketsReceived prometheus.Counter

	// LRCPPacketsDropped counts datagrams discarded before reaching a
	// session (malformed, oversize, or addressed to the wrong peer).
	LRCPPacketsDropped prometheus.Counter

	// LRCPRetransmits counts byte ranges resent after a retransmit timeout.
	LRCPRetransmits prometheus.Counter

	// JobQueueDepth tracks the number of entries in each queue's heap
	// (jobcentre.Store.QueueDepths), which includes stale deleted or
	// assigned entries not yet pruned.
	JobQueueDepth *prometheus.GaugeVec

	// JobsInFlight tracks the number of jobs currently assigned to a worker.
	JobsInFlight prometheus.Gauge

	// Waiters tracks the number of client connections currently blocked in
	// a "get wait=true" call.
	Waiters prometheus.Gauge

	// Requests counts every dispatched Job Centre request, labeled by verb
	// and resulting status.
	Requests *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.LRCPSessions,
		c.LRCPPacketsSent,
		c.LRCPPacketsReceived,
		c.LRCPPacketsDropped,
		c.LRCPRetransmits,
		c.JobQueueDepth,
		c.JobsInFlight,
		c.Waiters,
		c.Requests,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		LRCPSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemLRCP,
			Name:      "sessions",
			Help:      "Number of currently active LRCP sessions.",
		}),

		LRCPPacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLRCP,
			Name:      "packets_sent_total",
			Help:      "Total LRCP datagrams transmitted.",
		}),

		LRCPPacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLRCP,
			Name:      "packets_received_total",
			Help:      "Total LRCP datagrams accepted for dispatch.",
		}),

		LRCPPacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLRCP,
			Name:      "packets_dropped_total",
			Help:      "Total LRCP datagrams discarded before reaching a session.",
		}),

		LRCPRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLRCP,
			Name:      "retransmits_total",
			Help:      "Total byte ranges resent after a retransmit timeout.",
		}),

		JobQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJobQueue,
			Name:      "queue_depth",
			Help:      "Number of entries in each queue's heap, including stale entries not yet pruned.",
		}, []string{"queue"}),

		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJobQueue,
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently assigned to a worker.",
		}),

		Waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJobQueue,
			Name:      "waiters",
			Help:      "Number of client connections blocked in a wait get.",
		}),

		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJobQueue,
			Name:      "requests_total",
			Help:      "Total Job Centre requests dispatched, by verb and status.",
		}, []string{labelVerb, labelStatus}),
	}
}

// -------------------------------------------------------------------------
// LRCP
// -------------------------------------------------------------------------

// RegisterSession increments the active LRCP sessions gauge.
func (c *Collector) RegisterSession() {
	c.LRCPSessions.Inc()
}

// UnregisterSession decrements the active LRCP sessions gauge.
func (c *Collector) UnregisterSession() {
	c.LRCPSessions.Dec()
}

// IncPacketsSent increments the transmitted datagram counter.
func (c *Collector) IncPacketsSent() {
	c.LRCPPacketsSent.Inc()
}

// IncPacketsReceived increments the accepted datagram counter.
func (c *Collector) IncPacketsReceived() {
	c.LRCPPacketsReceived.Inc()
}

// IncPacketsDropped increments the discarded datagram counter.
func (c *Collector) IncPacketsDropped() {
	c.LRCPPacketsDropped.Inc()
}

// IncRetransmits increments the retransmit counter.
func (c *Collector) IncRetransmits() {
	c.LRCPRetransmits.Inc()
}

// -------------------------------------------------------------------------
// Job Centre
// -------------------------------------------------------------------------

// SetQueueDepth sets the queue-depth gauge for a single named queue.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.JobQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetJobsInFlight sets the number of currently assigned jobs.
func (c *Collector) SetJobsInFlight(n int) {
	c.JobsInFlight.Set(float64(n))
}

// IncWaiters increments the number of connections blocked in a wait get.
func (c *Collector) IncWaiters() {
	c.Waiters.Inc()
}

// DecWaiters decrements the number of connections blocked in a wait get.
func (c *Collector) DecWaiters() {
	c.Waiters.Dec()
}

// RecordRequest increments the request counter for the given verb and
// resulting status ("ok", "no-job", or "error").
func (c *Collector) RecordRequest(verb, status string) {
	c.Requests.WithLabelValues(verb, status).Inc()
}
