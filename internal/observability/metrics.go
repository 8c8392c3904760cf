package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks live session health.
//
//   - sessions_active: sessions currently holding an open connection
//   - connects_total{result}: connect attempts (ok|error)
//   - reconnects_total{reason}: scheduled reconnects (session_limit|go_away|closed|error|voice_change)
//   - fatal_errors_total{reason}: terminal failures (structural_rejection|reconnect_exhausted)
//   - tool_calls_total{tool,status}: dispatched calls (ok|error|denied|deferred)
//   - tool_duration_seconds{tool}: capability execution latency
//   - deferred_results_total{delivery}: late results (injected|logged|dropped)
//   - decode_errors_total: inbound frames dropped by the codec
//   - continuity_writes_total{result}: checkpoint writes (ok|error)
//   - tokens_total{type}: usage metadata reported by the service
type Metrics struct {
	SessionsActive   prometheus.Gauge
	Connects         *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	FatalErrors      *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	DeferredResults  *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	ContinuityWrites *prometheus.CounterVec
	Tokens           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer; namespace defaults to "livelink".
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "livelink"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live sessions currently connected",
		}),
		Connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Scheduled reconnects by reason",
		}, []string{"reason"}),
		FatalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Terminal session failures by reason",
		}, []string{"reason"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Capability execution latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"tool"}),
		DeferredResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_results_total",
			Help:      "Tool results that arrived after the interim acknowledgment",
		}, []string{"delivery"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		ContinuityWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continuity_writes_total",
			Help:      "Continuity checkpoint writes by result",
		}, []string{"result"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported in usage metadata by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) Connect(ok bool) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) Reconnect(reason string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Fatal(reason string) {
	if m == nil {
		return
	}
	m.FatalErrors.WithLabelValues(reason).Inc()
}

// ToolCall records a dispatched call and, when elapsed > 0, its latency.
func (m *Metrics) ToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	if elapsed > 0 {
		m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) DeferredResult(delivery string) {
	if m == nil {
		return
	}
	m.DeferredResults.WithLabelValues(delivery).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) ContinuityWrite(ok bool) {
	if m == nil {
		return
	}
	m.ContinuityWrites.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) TokensUsed(kind string, n int32) {
	if m == nil || n <= 0 {
		return
	}
	m.Tokens.WithLabelValues(kind).Add(float64(n))
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
