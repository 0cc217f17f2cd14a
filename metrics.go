package modbus

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the ambient instrumentation surface: the engine calls
// Increment* as transactions progress, independent of the transaction's
// result. Shaped after Atsika-aznet/metrics.go's Metrics interface.
type Metrics interface {
	IncrementSent()
	IncrementReceived()
	IncrementTimeout()
	IncrementTransportFault()
	IncrementProtocolException()
	IncrementCorrelationMismatch()
	IncrementFrameError()
	ObserveRoundTrip(nanos int64)
}

// NoopMetrics discards everything; it is the zero-cost default.
type NoopMetrics struct{}

func (NoopMetrics) IncrementSent()               {}
func (NoopMetrics) IncrementReceived()            {}
func (NoopMetrics) IncrementTimeout()             {}
func (NoopMetrics) IncrementTransportFault()      {}
func (NoopMetrics) IncrementProtocolException()   {}
func (NoopMetrics) IncrementCorrelationMismatch() {}
func (NoopMetrics) IncrementFrameError()          {}
func (NoopMetrics) ObserveRoundTrip(nanos int64)  {}

// AtomicMetrics implements Metrics with plain atomic counters, the same
// shape as Atsika-aznet/metrics.go's DefaultMetrics, for embedders that
// want counts without pulling in Prometheus.
type AtomicMetrics struct {
	sent                int64
	received            int64
	timeouts            int64
	transportFaults     int64
	protocolExceptions  int64
	correlationMismatch int64
	frameErrors         int64
	roundTripNanosTotal int64
}

func NewAtomicMetrics() *AtomicMetrics { return &AtomicMetrics{} }

func (m *AtomicMetrics) IncrementSent()                { atomic.AddInt64(&m.sent, 1) }
func (m *AtomicMetrics) IncrementReceived()             { atomic.AddInt64(&m.received, 1) }
func (m *AtomicMetrics) IncrementTimeout()              { atomic.AddInt64(&m.timeouts, 1) }
func (m *AtomicMetrics) IncrementTransportFault()       { atomic.AddInt64(&m.transportFaults, 1) }
func (m *AtomicMetrics) IncrementProtocolException()    { atomic.AddInt64(&m.protocolExceptions, 1) }
func (m *AtomicMetrics) IncrementCorrelationMismatch()  { atomic.AddInt64(&m.correlationMismatch, 1) }
func (m *AtomicMetrics) IncrementFrameError()           { atomic.AddInt64(&m.frameErrors, 1) }
func (m *AtomicMetrics) ObserveRoundTrip(nanos int64)   { atomic.AddInt64(&m.roundTripNanosTotal, nanos) }

func (m *AtomicMetrics) SentCount() int64     { return atomic.LoadInt64(&m.sent) }
func (m *AtomicMetrics) ReceivedCount() int64 { return atomic.LoadInt64(&m.received) }
func (m *AtomicMetrics) TimeoutCount() int64  { return atomic.LoadInt64(&m.timeouts) }

// PromMetrics implements Metrics on top of github.com/prometheus/client_golang,
// grounded on runZeroInc-sockstats/cmd/prom-metrics-gen and ghjramos-aistore's
// direct dependency on the same library.
type PromMetrics struct {
	sent                prometheus.Counter
	received            prometheus.Counter
	timeouts            prometheus.Counter
	transportFaults     prometheus.Counter
	protocolExceptions  prometheus.Counter
	correlationMismatch prometheus.Counter
	frameErrors         prometheus.Counter
	roundTrip           prometheus.Histogram
}

// NewPromMetrics builds a PromMetrics and registers its collectors with reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_requests_sent_total",
			Help: "Requests sent on the wire.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_responses_received_total",
			Help: "Responses received and decoded.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_requests_timed_out_total",
			Help: "Requests retired by the timeout wheel.",
		}),
		transportFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_transport_faults_total",
			Help: "Requests failed by a connect/send/read failure.",
		}),
		protocolExceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_protocol_exceptions_total",
			Help: "Responses carrying a Modbus exception frame.",
		}),
		correlationMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_correlation_mismatch_total",
			Help: "Frames dropped because unit_id/tx_id did not match an in-flight slot.",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_frame_errors_total",
			Help: "CRC mismatches or truncated reads.",
		}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modbus_round_trip_seconds",
			Help:    "Time from ts_sent to ts_resp_recv.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.sent, m.received, m.timeouts, m.transportFaults,
		m.protocolExceptions, m.correlationMismatch, m.frameErrors, m.roundTrip)
	return m
}

func (m *PromMetrics) IncrementSent()               { m.sent.Inc() }
func (m *PromMetrics) IncrementReceived()            { m.received.Inc() }
func (m *PromMetrics) IncrementTimeout()             { m.timeouts.Inc() }
func (m *PromMetrics) IncrementTransportFault()      { m.transportFaults.Inc() }
func (m *PromMetrics) IncrementProtocolException()   { m.protocolExceptions.Inc() }
func (m *PromMetrics) IncrementCorrelationMismatch() { m.correlationMismatch.Inc() }
func (m *PromMetrics) IncrementFrameError()          { m.frameErrors.Inc() }
func (m *PromMetrics) ObserveRoundTrip(nanos int64)  { m.roundTrip.Observe(float64(nanos) / 1e9) }
