// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the queue worker runtime's and per-device
// supervisor's counters as Prometheus metrics, alongside the
// structured logs each package already emits.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter the policy enforcement core exports.
// Labeled by device and, where relevant, policy/queue, so one process
// running several device profiles still yields per-device series.
type Metrics struct {
	PacketsProcessed *prometheus.CounterVec
	PacketsAccepted  *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	VerdictErrors    *prometheus.CounterVec
	WorkerRestarts   *prometheus.CounterVec
	CrashesDetected  *prometheus.CounterVec
	SafeModeEntries  *prometheus.CounterVec
}

// New builds and registers a Metrics against the default Prometheus
// registry.
func New() *Metrics {
	m := &Metrics{
		PacketsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_packets_processed_total",
			Help: "Total number of packets a policy worker received from its queue.",
		}, []string{"device", "policy"}),
		PacketsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_packets_accepted_total",
			Help: "Total number of packets accepted by a policy's state machine.",
		}, []string{"device", "policy"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_packets_dropped_total",
			Help: "Total number of packets dropped by a policy's state machine.",
		}, []string{"device", "policy"}),
		VerdictErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_verdict_errors_total",
			Help: "Total number of failures returning a verdict to the kernel queue.",
		}, []string{"device", "policy"}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_worker_restarts_total",
			Help: "Total number of times a policy worker was restarted after an abnormal exit.",
		}, []string{"device", "policy"}),
		CrashesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_crashes_detected_total",
			Help: "Total number of worker exits classified as crashes.",
		}, []string{"device"}),
		SafeModeEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewall_safe_mode_entries_total",
			Help: "Total number of times a device entered safe mode after crossing its crash threshold.",
		}, []string{"device"}),
	}

	prometheus.MustRegister(
		m.PacketsProcessed, m.PacketsAccepted, m.PacketsDropped,
		m.VerdictErrors, m.WorkerRestarts, m.CrashesDetected, m.SafeModeEntries,
	)
	return m
}
