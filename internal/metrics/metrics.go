// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Orders        *prometheus.CounterVec
	StockUpdates  *prometheus.CounterVec
	LockWait      prometheus.Histogram
	Compensations prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock_engine",
			Name:      "orders_total",
			Help:      "Orders processed, by final status and reason.",
		}, []string{"status", "reason"}),
		StockUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock_engine",
			Name:      "stock_updates_total",
			Help:      "Administrative stock changes, by operation.",
		}, []string{"op"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stock_engine",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring product locks for multi-item orders.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		}),
		Compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stock_engine",
			Name:      "compensations_total",
			Help:      "Partial decrements undone after a later line of the same order failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Orders, m.StockUpdates, m.LockWait, m.Compensations)
	}
	return m
}

func (m *Metrics) ObserveOrder(status, reason string) {
	m.Orders.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) ObserveStockUpdate(op string) {
	m.StockUpdates.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.LockWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveCompensation() {
	m.Compensations.Inc()
}
