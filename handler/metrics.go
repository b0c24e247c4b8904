package handler

import "sync/atomic"

type MetricsSnapshot struct {
	MessagesSent     int64
	MessagesReceived int64
	Dispatched       int64
	Unroutable       int64
	Filtered         int64
	Invalid          int64
	HandlerErrors    int64
	Resolved         int64
	Timeouts         int64
	Pending          int64
}

type Metrics struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	dispatched       atomic.Int64
	unroutable       atomic.Int64
	filtered         atomic.Int64
	invalid          atomic.Int64
	handlerErrors    atomic.Int64
	resolved         atomic.Int64
	timeouts         atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordSent()         { m.messagesSent.Add(1) }
func (m *Metrics) RecordReceived()     { m.messagesReceived.Add(1) }
func (m *Metrics) RecordDispatched()   { m.dispatched.Add(1) }
func (m *Metrics) RecordUnroutable()   { m.unroutable.Add(1) }
func (m *Metrics) RecordFiltered()     { m.filtered.Add(1) }
func (m *Metrics) RecordInvalid()      { m.invalid.Add(1) }
func (m *Metrics) RecordHandlerError() { m.handlerErrors.Add(1) }
func (m *Metrics) RecordResolved()     { m.resolved.Add(1) }
func (m *Metrics) RecordTimeout()      { m.timeouts.Add(1) }

// Snapshot reads each counter independently; the values are not a single
// consistent cut.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		Dispatched:       m.dispatched.Load(),
		Unroutable:       m.unroutable.Load(),
		Filtered:         m.filtered.Load(),
		Invalid:          m.invalid.Load(),
		HandlerErrors:    m.handlerErrors.Load(),
		Resolved:         m.resolved.Load(),
		Timeouts:         m.timeouts.Load(),
	}
}
