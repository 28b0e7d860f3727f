package infra

import (
	"sync/atomic"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	cyclesTotal     atomic.Uint64
	ordersEvaluated atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersFailed    atomic.Uint64
	retriesTotal    atomic.Uint64
	priceErrors     atomic.Uint64
	notifyErrors    atomic.Uint64

	// Gauges
	activeOrders atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCycle records a completed scheduler cycle.
func (m *Metrics) RecordCycle() {
	m.cyclesTotal.Add(1)
}

// RecordOrdersEvaluated adds to the count of orders considered in a cycle.
func (m *Metrics) RecordOrdersEvaluated(n int) {
	if n > 0 {
		m.ordersEvaluated.Add(uint64(n))
	}
}

// RecordOrderFilled records a successfully executed order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderFailed records a permanently failed order.
func (m *Metrics) RecordOrderFailed() {
	m.ordersFailed.Add(1)
}

// RecordRetry records an execution failure that left the order active.
func (m *Metrics) RecordRetry() {
	m.retriesTotal.Add(1)
}

// RecordPriceError records a transient price lookup failure.
func (m *Metrics) RecordPriceError() {
	m.priceErrors.Add(1)
}

// RecordNotifyError records a failed notification delivery.
func (m *Metrics) RecordNotifyError() {
	m.notifyErrors.Add(1)
}

// SetActiveOrders sets the current active order gauge.
func (m *Metrics) SetActiveOrders(n int64) {
	m.activeOrders.Store(n)
}

// Snapshot is a point-in-time copy of all metric values.
type Snapshot struct {
	CyclesTotal     uint64
	OrdersEvaluated uint64
	OrdersFilled    uint64
	OrdersFailed    uint64
	RetriesTotal    uint64
	PriceErrors     uint64
	NotifyErrors    uint64
	ActiveOrders    int64
}

// GetSnapshot returns current metric values.
func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		CyclesTotal:     m.cyclesTotal.Load(),
		OrdersEvaluated: m.ordersEvaluated.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		RetriesTotal:    m.retriesTotal.Load(),
		PriceErrors:     m.priceErrors.Load(),
		NotifyErrors:    m.notifyErrors.Load(),
		ActiveOrders:    m.activeOrders.Load(),
	}
}

// Reset zeroes all metrics. Intended for tests.
func (m *Metrics) Reset() {
	m.cyclesTotal.Store(0)
	m.ordersEvaluated.Store(0)
	m.ordersFilled.Store(0)
	m.ordersFailed.Store(0)
	m.retriesTotal.Store(0)
	m.priceErrors.Store(0)
	m.notifyErrors.Store(0)
	m.activeOrders.Store(0)
}
