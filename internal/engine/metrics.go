package engine

import "sync/atomic"

// Metrics counts engine activity. The TUI reads a snapshot for its status
// line; nothing here blocks the hot path.
type Metrics struct {
	connects      atomic.Uint64
	reconnects    atomic.Uint64
	framesRouted  atomic.Uint64
	badFrames     atomic.Uint64
	merged        atomic.Uint64
	duplicates    atomic.Uint64
	queuedSends   atomic.Uint64
	sendFailures  atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConnect()     { m.connects.Add(1) }
func (m *Metrics) IncReconnect()   { m.reconnects.Add(1) }
func (m *Metrics) IncFrame()       { m.framesRouted.Add(1) }
func (m *Metrics) IncBadFrame()    { m.badFrames.Add(1) }
func (m *Metrics) IncMerged()      { m.merged.Add(1) }
func (m *Metrics) IncDuplicate()   { m.duplicates.Add(1) }
func (m *Metrics) IncQueuedSend()  { m.queuedSends.Add(1) }
func (m *Metrics) IncSendFailure() { m.sendFailures.Add(1) }

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Connects     uint64
	Reconnects   uint64
	FramesRouted uint64
	BadFrames    uint64
	Merged       uint64
	Duplicates   uint64
	QueuedSends  uint64
	SendFailures uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Connects:     m.connects.Load(),
		Reconnects:   m.reconnects.Load(),
		FramesRouted: m.framesRouted.Load(),
		BadFrames:    m.badFrames.Load(),
		Merged:       m.merged.Load(),
		Duplicates:   m.duplicates.Load(),
		QueuedSends:  m.queuedSends.Load(),
		SendFailures: m.sendFailures.Load(),
	}
}
