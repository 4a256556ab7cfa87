package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shopcheckout"

// Metrics はチェックアウト周りのコレクタ。nilでも呼べる。
type Metrics struct {
	Checkouts            *prometheus.CounterVec
	CheckoutLatencyMS    prometheus.Histogram
	CompensationFailures prometheus.Counter
	CartCleanupFailures  prometheus.Counter
	LedgerOps            *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_ms",
			Help:      "Checkout latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		CompensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_compensation_failures_total",
			Help:      "Reservations that could not be released after a failed checkout.",
		}),
		CartCleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_cart_cleanup_failures_total",
			Help:      "Placed orders whose cart lines could not be removed.",
		}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Inventory ledger operations by op and result.",
		}, []string{"op", "result"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.Checkouts,
		m.CheckoutLatencyMS,
		m.CompensationFailures,
		m.CartCleanupFailures,
		m.LedgerOps,
		m.StatusTransitions,
		m.Requests,
		m.LatencyMS,
	)
	return m
}

func (m *Metrics) ObserveCheckout(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutLatencyMS.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) CompensationFailed() {
	if m == nil {
		return
	}
	m.CompensationFailures.Inc()
}

func (m *Metrics) CartCleanupFailed() {
	if m == nil {
		return
	}
	m.CartCleanupFailures.Inc()
}

func (m *Metrics) LedgerOp(op, result string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) StatusChanged(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveRequest(route string, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
