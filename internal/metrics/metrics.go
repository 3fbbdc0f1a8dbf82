// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors exported by the supervisor.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the supervisor's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec
	viewers           prometheus.Gauge
	viewersDropped    *prometheus.CounterVec
	logLines          *prometheus.CounterVec
	logWriteErrors    prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		lifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedeck_lifecycle_operations_total",
				Help: "Lifecycle operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		lifecycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servicedeck_lifecycle_duration_seconds",
				Help:    "Time spent in start and stop transitions.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"op"},
		),
		viewers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "servicedeck_viewers",
				Help: "Currently connected live log viewers.",
			},
		),
		viewersDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedeck_viewers_dropped_total",
				Help: "Viewers removed from the hub, by reason.",
			},
			[]string{"reason"},
		),
		logLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedeck_log_lines_total",
				Help: "Captured log lines by stream.",
			},
			[]string{"stream"},
		),
		logWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "servicedeck_log_write_errors_total",
				Help: "Failed writes to service log files.",
			},
		),
	}
	reg.MustRegister(m.lifecycleOps, m.lifecycleDuration, m.viewers,
		m.viewersDropped, m.logLines, m.logWriteErrors)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveLifecycle records one lifecycle operation.
func (m *Metrics) ObserveLifecycle(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(op, result).Inc()
	m.lifecycleDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ViewerAdded increments the connected viewer gauge.
func (m *Metrics) ViewerAdded() {
	if m == nil {
		return
	}
	m.viewers.Inc()
}

// ViewerRemoved decrements the gauge and counts the reason.
func (m *Metrics) ViewerRemoved(reason string) {
	if m == nil {
		return
	}
	m.viewers.Dec()
	m.viewersDropped.WithLabelValues(reason).Inc()
}

// LogLine counts a captured line.
func (m *Metrics) LogLine(stream string) {
	if m == nil {
		return
	}
	m.logLines.WithLabelValues(stream).Inc()
}

// LogWriteError counts a failed log file write.
func (m *Metrics) LogWriteError() {
	if m == nil {
		return
	}
	m.logWriteErrors.Inc()
}
