package metrics

import "github.com/prometheus/client_golang/prometheus"

// Quota and downstream provider Prometheus metrics.
var (
	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "quota_decisions_total",
			Help:      "Quota permission checks by outcome",
		},
		[]string{"result"}, // "allowed" / "denied" / "error" / "overflow"
	)

	QuotaUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printbot",
			Name:      "quota_used",
			Help:      "Gated operations recorded for the current day",
		},
	)

	QuotaStorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "quota_storage_errors_total",
			Help:      "Quota storage faults",
		},
		[]string{"kind"}, // "unavailable" / "corrupt"
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "llm_requests_total",
			Help:      "Total number of completion requests",
		},
		[]string{"model", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "printbot",
			Name:      "llm_request_duration_seconds",
			Help:      "Completion request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"model"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "llm_tokens_total",
			Help:      "Total completion tokens consumed",
		},
		[]string{"model", "type"}, // "prompt" / "completion"
	)

	OCRRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "ocr_requests_total",
			Help:      "OCR recognitions by outcome",
		},
		[]string{"status"}, // "success" / "empty" / "error"
	)

	ChatEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printbot",
			Name:      "chat_events_total",
			Help:      "Inbound chat events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

var relayMetricsRegistered bool

// RegisterRelayMetrics registers the relay Prometheus metrics. Must be called once from main.
func RegisterRelayMetrics() {
	if relayMetricsRegistered {
		return
	}
	prometheus.MustRegister(QuotaDecisionsTotal)
	prometheus.MustRegister(QuotaUsed)
	prometheus.MustRegister(QuotaStorageErrorsTotal)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMTokensTotal)
	prometheus.MustRegister(OCRRequestsTotal)
	prometheus.MustRegister(ChatEventsTotal)
	relayMetricsRegistered = true
}
