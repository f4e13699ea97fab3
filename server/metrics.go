package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
)

// Metrics are the server's prometheus collectors.
type Metrics struct {
	Requests        *prometheus.CounterVec
	ProtocolErrors  prometheus.Counter
	Connections     prometheus.Gauge
	LiveHandles     prometheus.Gauge
	LiveObjects     *prometheus.GaugeVec
	SyncPrimitives  *prometheus.CounterVec
	ContextCalls    *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ntserver_requests_total",
			Help: "Requests dispatched, by opcode and reply status",
		}, []string{"opcode", "status"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntserver_protocol_errors_total",
			Help: "Connections closed because of a malformed request",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntserver_connections",
			Help: "Open client connections",
		}),
		LiveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntserver_handles",
			Help: "Handles open across all processes",
		}),
		LiveObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntserver_objects",
			Help: "Live kernel objects by kind",
		}, []string{"kind"}),
		SyncPrimitives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ntserver_sync_primitives_total",
			Help: "Sync primitives created, by path (fast or fallback)",
		}, []string{"path"}),
		ContextCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ntserver_context_backend_calls_total",
			Help: "Register backend calls by backend, op and result",
		}, []string{"backend", "op", "result"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ntserver_dispatch_seconds",
			Help:    "Time spent in request handlers",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"opcode"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Requests,
			m.ProtocolErrors,
			m.Connections,
			m.LiveHandles,
			m.LiveObjects,
			m.SyncPrimitives,
			m.ContextCalls,
			m.DispatchLatency,
		)
	}
	return m
}

// OnHandleEvent tracks the live handle gauge. It is subscribed to every
// process handle table.
func (m *Metrics) OnHandleEvent(e handle.Event) {
	switch e.Type {
	case handle.EventAllocated:
		m.LiveHandles.Inc()
	case handle.EventFreed:
		m.LiveHandles.Dec()
	}
}

// ObjectChanged tracks object creation and destruction.
func (m *Metrics) ObjectChanged(kind kernel.Kind, delta int) {
	m.LiveObjects.WithLabelValues(kind.String()).Add(float64(delta))
}

// PrimitiveCreated counts sync primitives by path.
func (m *Metrics) PrimitiveCreated(fast bool) {
	path := "fallback"
	if fast {
		path = "fast"
	}
	m.SyncPrimitives.WithLabelValues(path).Inc()
}

// ContextCall counts register backend calls.
func (m *Metrics) ContextCall(backend, op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.IsGone(err):
		result = "gone"
	default:
		result = "error"
	}
	m.ContextCalls.WithLabelValues(backend, op, result).Inc()
}
