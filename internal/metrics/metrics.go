package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// OrderMetrics is shared by the order service and the metrics endpoint.
// Every instance owns its registry. A nil *OrderMetrics is valid and records
// nothing.
type OrderMetrics struct {
	registry *prometheus.Registry

	OrdersCreated   prometheus.Counter
	OrdersCancelled prometheus.Counter
	StatusChanges   prometheus.Counter
	StockRejections prometheus.Counter
	CreateFailures  prometheus.Counter
	PaymentsApplied prometheus.Counter
	PaymentsFailed  prometheus.Counter
	CreateLatency   prometheus.Histogram
}

func NewOrderMetrics() *OrderMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &OrderMetrics{
		registry:        reg,
		OrdersCreated:   counter("orders_created_total", "Orders created, one per store group."),
		OrdersCancelled: counter("orders_cancelled_total", "Orders cancelled with stock restored."),
		StatusChanges:   counter("order_status_changes_total", "Order status transitions."),
		StockRejections: counter("order_stock_rejections_total", "Cart submissions rejected for insufficient stock."),
		CreateFailures:  counter("order_create_failures_total", "Cart submissions that created no orders."),
		PaymentsApplied: counter("order_payments_applied_total", "Payment confirmations applied to orders."),
		PaymentsFailed:  counter("order_payments_failed_total", "Failed or expired payments recorded on orders."),
		CreateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_create_duration_seconds",
			Help:      "Time to plan, reserve and persist one cart submission.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *OrderMetrics) Created(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.OrdersCreated.Add(float64(n))
	m.CreateLatency.Observe(d.Seconds())
}

func (m *OrderMetrics) Cancelled() {
	if m != nil {
		m.OrdersCancelled.Inc()
	}
}

func (m *OrderMetrics) StatusChanged() {
	if m != nil {
		m.StatusChanges.Inc()
	}
}

func (m *OrderMetrics) StockRejected() {
	if m != nil {
		m.StockRejections.Inc()
	}
}

func (m *OrderMetrics) CreateFailed() {
	if m != nil {
		m.CreateFailures.Inc()
	}
}

func (m *OrderMetrics) PaymentApplied() {
	if m != nil {
		m.PaymentsApplied.Inc()
	}
}

func (m *OrderMetrics) PaymentFailed() {
	if m != nil {
		m.PaymentsFailed.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *OrderMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
