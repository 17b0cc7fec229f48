// Package metrics exposes Prometheus metrics for job runs and the scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autolister"

// Collector holds every metric the service reports. All methods are safe on a
// nil *Collector so that components can be built without metrics in tests.
type Collector struct {
	jobsStarted         prometheus.Counter
	jobRejections       *prometheus.CounterVec
	jobExits            *prometheus.CounterVec
	listingOutcomes     *prometheus.CounterVec
	jobDuration         prometheus.Histogram
	jobRunning          prometheus.Gauge
	forcedKills         prometheus.Counter
	schedulerTicks      prometheus.Counter
	scheduledExecutions *prometheus.CounterVec
	schedulerErrors     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector builds the metrics and registers them with reg. A nil reg uses
// a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Workflow processes launched.",
		}),
		jobRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_rejections_total",
			Help:      "Start requests rejected before launch, by reason.",
		}, []string{"reason"}),
		jobExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_exits_total",
			Help:      "Workflow process exits, by terminal state.",
		}, []string{"state"}),
		listingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_outcomes_total",
			Help:      "Per-listing outcomes folded into the stats ledger.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of workflow processes.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		jobRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a workflow process is alive.",
		}),
		forcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_forced_kills_total",
			Help:      "Workflow processes terminated after the stop grace period.",
		}),
		schedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler polling iterations.",
		}),
		scheduledExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_executions_total",
			Help:      "Scheduled entries executed, by result.",
		}, []string{"result"}),
		schedulerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_errors_total",
			Help:      "Scheduler ticks that failed before completing.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.jobsStarted,
		c.jobRejections,
		c.jobExits,
		c.listingOutcomes,
		c.jobDuration,
		c.jobRunning,
		c.forcedKills,
		c.schedulerTicks,
		c.scheduledExecutions,
		c.schedulerErrors,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsStarted.Inc()
	c.jobRunning.Set(1)
}

func (c *Collector) JobRejected(reason string) {
	if c == nil {
		return
	}
	c.jobRejections.WithLabelValues(reason).Inc()
}

// JobExited records a finished workflow process and its duration.
func (c *Collector) JobExited(state string, seconds float64) {
	if c == nil {
		return
	}
	c.jobExits.WithLabelValues(state).Inc()
	c.jobDuration.Observe(seconds)
	c.jobRunning.Set(0)
}

func (c *Collector) ListingOutcome(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.listingOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (c *Collector) ForcedKill() {
	if c == nil {
		return
	}
	c.forcedKills.Inc()
}

func (c *Collector) SchedulerTick() {
	if c == nil {
		return
	}
	c.schedulerTicks.Inc()
}

func (c *Collector) ScheduledExecution(result string) {
	if c == nil {
		return
	}
	c.scheduledExecutions.WithLabelValues(result).Inc()
}

func (c *Collector) SchedulerError() {
	if c == nil {
		return
	}
	c.schedulerErrors.Inc()
}
