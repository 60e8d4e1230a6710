// Copyright 2025 Kylix Project
//
// Prometheus collectors for validator performance telemetry

package validators

import "github.com/prometheus/client_golang/prometheus"

// telemetry holds the coordinator's prometheus collectors. It is kept on
// a private registry (not the global default) so multiple coordinators in
// the same process - e.g. one per test - don't collide on registration.
type telemetry struct {
	registry       *prometheus.Registry
	failureRate    *prometheus.GaugeVec
	avgTxTimeMicro *prometheus.GaugeVec
	txTotal        *prometheus.CounterVec
}

func newTelemetry() *telemetry {
	reg := prometheus.NewRegistry()
	t := &telemetry{
		registry: reg,
		failureRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kylix_validator_failure_rate",
			Help: "Fraction of failed transactions in the validator's sliding window.",
		}, []string{"validator"}),
		avgTxTimeMicro: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kylix_validator_avg_tx_time_microseconds",
			Help: "Average transaction processing time in the validator's sliding window.",
		}, []string{"validator"}),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kylix_validator_transactions_total",
			Help: "Total transactions recorded for a validator, by outcome.",
		}, []string{"validator", "outcome"}),
	}
	reg.MustRegister(t.failureRate, t.avgTxTimeMicro, t.txTotal)
	return t
}

func (t *telemetry) observe(id string, snap Snapshot, success bool) {
	t.failureRate.WithLabelValues(id).Set(snap.FailureRate)
	t.avgTxTimeMicro.WithLabelValues(id).Set(snap.AvgTxTimeMicros)
	outcome := "failure"
	if success {
		outcome = "success"
	}
	t.txTotal.WithLabelValues(id, outcome).Inc()
}

func (t *telemetry) drop(id string) {
	t.failureRate.DeleteLabelValues(id)
	t.avgTxTimeMicro.DeleteLabelValues(id)
}

// Registry exposes the coordinator's private prometheus registry so an
// external collaborator (the HTTP surface, out of scope here) can mount
// it on an exposition endpoint.
func (c *Coordinator) Registry() *prometheus.Registry { return c.telemetry.registry }
