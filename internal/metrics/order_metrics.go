package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated    prometheus.Counter
	ordersRejected   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	versionConflicts prometheus.Counter

	// Время выполнения операций сервиса
	operationDuration *prometheus.HistogramVec
}

// NewOrderMetrics создаёт метрики заказов в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики заказов в указанном реестре.
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodorders_orders_created_total",
			Help: "Orders accepted and persisted in PENDING",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodorders_orders_rejected_total",
			Help: "Order placements rejected by error kind",
		}, []string{"kind"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodorders_order_transitions_total",
			Help: "Applied order status transitions",
		}, []string{"from", "to"}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodorders_order_version_conflicts_total",
			Help: "Status updates lost to a concurrent writer",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "foodorders_order_operation_duration_seconds",
			Help:    "Duration of order service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
	}
}

// RecordCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordCreated() {
	m.ordersCreated.Inc()
}

// RecordRejected увеличивает счётчик отклонённых заказов; kind — код вида ошибки.
func (m *OrderMetrics) RecordRejected(kind string) {
	m.ordersRejected.WithLabelValues(kind).Inc()
}

// RecordTransition увеличивает счётчик переходов статуса.
func (m *OrderMetrics) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordVersionConflict увеличивает счётчик проигранных гонок.
func (m *OrderMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// ObserveOperation записывает длительность операции.
func (m *OrderMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}
