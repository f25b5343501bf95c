// Package metrics exposes the daemon's operational counters over
// Prometheus, scraped from the local debug HTTP surface (never the IPC
// transport itself). Each subsystem updates the numbers it owns; this
// package only declares and registers them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors is the daemon-wide metrics registry. One instance is created
// at startup and threaded into every subsystem that has a number worth
// exporting.
type Collectors struct {
	Registry *prometheus.Registry

	EventsAppended   *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	DeliveryLag      prometheus.Histogram
	InjectionsFailed *prometheus.CounterVec
	WorkerHealth     *prometheus.GaugeVec
	BusSubscribers   *prometheus.GaugeVec
	BusLagged        *prometheus.CounterVec
	NudgesFired      *prometheus.CounterVec
}

// New constructs and registers the daemon's collectors against a fresh
// registry (not the global default registerer, so multiple daemon
// instances in one test process never collide).
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		Registry: reg,
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cccc",
			Name:      "events_appended_total",
			Help:      "Events committed to the ledger, by group and kind.",
		}, []string{"group_id", "kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cccc",
			Name:      "delivery_queue_depth",
			Help:      "Events queued awaiting throttle release, by group and actor.",
		}, []string{"group_id", "actor_id"}),
		DeliveryLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cccc",
			Name:      "delivery_lag_seconds",
			Help:      "Time from chat.message commit to successful injection.",
			Buckets:   prometheus.DefBuckets,
		}),
		InjectionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cccc",
			Name:      "injections_failed_total",
			Help:      "Injection attempts that errored, by group and actor.",
		}, []string{"group_id", "actor_id"}),
		WorkerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cccc",
			Name:      "runner_health",
			Help:      "1 if the actor's runner is running, 0 otherwise.",
		}, []string{"group_id", "actor_id"}),
		BusSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cccc",
			Name:      "bus_subscribers",
			Help:      "Live ipc subscriptions, by group.",
		}, []string{"group_id"}),
		BusLagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cccc",
			Name:      "bus_lagged_total",
			Help:      "Times a subscriber was declared lagged and dropped, by group.",
		}, []string{"group_id"}),
		NudgesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cccc",
			Name:      "nudges_fired_total",
			Help:      "system.notify events produced by built-in nudge policies, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.EventsAppended, c.QueueDepth, c.DeliveryLag, c.InjectionsFailed,
		c.WorkerHealth, c.BusSubscribers, c.BusLagged, c.NudgesFired,
	)
	return c
}
