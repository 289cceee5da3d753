package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry              *prometheus.Registry
	RunsTotal             *prometheus.CounterVec
	RunAttempts           prometheus.Histogram
	ShopRequestsTotal     *prometheus.CounterVec
	ShopRequestDuration   *prometheus.HistogramVec
	RecommendationsTotal  *prometheus.CounterVec
	PurchaseAttemptsTotal *prometheus.CounterVec
	ToolInvocationsTotal  *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbuy_runs_total",
			Help: "Total agent runs by terminal status.",
		},
		[]string{"status"},
	)
	attempts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookbuy_run_attempts",
			Help:    "Attempts consumed per agent run.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
	shopRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbuy_shop_requests_total",
			Help: "Retailer requests by shop, operation and outcome.",
		},
		[]string{"shop", "op", "outcome"},
	)
	shopDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbuy_shop_request_duration_seconds",
			Help:    "Retailer request latency by shop and operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shop", "op"},
	)
	recommendations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbuy_recommendations_total",
			Help: "Recommendation engine outcomes.",
		},
		[]string{"outcome"},
	)
	purchases := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbuy_purchase_attempts_total",
			Help: "Purchase attempts by shop and status.",
		},
		[]string{"shop", "status"},
	)
	tools := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbuy_tool_invocations_total",
			Help: "Standalone tool invocations by tool name and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	registry.MustRegister(runs, attempts, shopRequests, shopDuration, recommendations, purchases, tools)

	return &Metrics{
		Registry:              registry,
		RunsTotal:             runs,
		RunAttempts:           attempts,
		ShopRequestsTotal:     shopRequests,
		ShopRequestDuration:   shopDuration,
		RecommendationsTotal:  recommendations,
		PurchaseAttemptsTotal: purchases,
		ToolInvocationsTotal:  tools,
	}
}

// ObserveRun records a finished run and how many attempts it used.
func (m *Metrics) ObserveRun(status string, attempts int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunAttempts.Observe(float64(attempts))
}

// ObserveShopRequest records one retailer call.
func (m *Metrics) ObserveShopRequest(shop, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ShopRequestsTotal.WithLabelValues(shop, op, outcome).Inc()
	m.ShopRequestDuration.WithLabelValues(shop, op).Observe(d.Seconds())
}

// IncRecommendation increments the recommendation outcome counter.
func (m *Metrics) IncRecommendation(outcome string) {
	if m == nil {
		return
	}
	m.RecommendationsTotal.WithLabelValues(outcome).Inc()
}

// IncPurchase increments the purchase attempts counter.
func (m *Metrics) IncPurchase(shop, status string) {
	if m == nil {
		return
	}
	m.PurchaseAttemptsTotal.WithLabelValues(shop, status).Inc()
}

// IncTool increments the tool invocation counter.
func (m *Metrics) IncTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}
