// Copyright 2025 Kylix Project
//
// Prometheus counters for transaction queue throughput

package txqueue

import "github.com/prometheus/client_golang/prometheus"

// telemetry holds the queue's prometheus counters on a private registry,
// matching the scoping pattern used in pkg/validators.
type telemetry struct {
	registry  *prometheus.Registry
	submitted prometheus.Counter
	processed prometheus.Counter
	failed    prometheus.Counter
}

func newTelemetry() *telemetry {
	reg := prometheus.NewRegistry()
	t := &telemetry{
		registry: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kylix_queue_submitted_total",
			Help: "Total submissions accepted into the transaction queue.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kylix_queue_processed_total",
			Help: "Total submissions that completed admission successfully.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kylix_queue_failed_total",
			Help: "Total submissions that failed admission.",
		}),
	}
	reg.MustRegister(t.submitted, t.processed, t.failed)
	return t
}

// Registry exposes the queue's private prometheus registry.
func (q *Queue) Registry() *prometheus.Registry { return q.telemetry.registry }
