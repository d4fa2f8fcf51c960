package mctp

import "sync/atomic"

// Metrics tracks operational statistics for one endpoint across its
// connections. All counters are cumulative and safe for concurrent use.
type Metrics struct {
	// Traffic counters
	RxPackets  atomic.Uint64 // packets read from the stream
	TxPackets  atomic.Uint64 // packets written to the stream
	RxMessages atomic.Uint64 // messages fully reassembled
	TxMessages atomic.Uint64 // messages fragmented for transmit

	// Reassembler drop counters
	DroppedVersion    atomic.Uint64 // header version not 1
	DroppedSeqnum     atomic.Uint64 // sequence gap detected
	DroppedNoEOM      atomic.Uint64 // new SOM while a partial was pending
	DroppedNoSOM      atomic.Uint64 // continuation with no partial
	DroppedWrongOwner atomic.Uint64 // tag-owner mismatch against the partial
	DroppedOverflow   atomic.Uint64 // continuation would exceed the payload cap

	// Receive-side backpressure
	RxQueueDrops atomic.Uint64 // packets dropped because RPQ was full

	// Action lifecycle
	SubmittedActions  atomic.Uint64 // actions admitted to a tag slot
	Retries           atomic.Uint64 // re-transmissions of unanswered requests
	CompletedActions  atomic.Uint64 // actions that reached a terminal state
	SuccessfulActions atomic.Uint64
	FailedActions     atomic.Uint64

	// Connection lifecycle
	Connections atomic.Uint64 // connections accepted or established
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	RxPackets  uint64
	TxPackets  uint64
	RxMessages uint64
	TxMessages uint64

	DroppedVersion    uint64
	DroppedSeqnum     uint64
	DroppedNoEOM      uint64
	DroppedNoSOM      uint64
	DroppedWrongOwner uint64
	DroppedOverflow   uint64

	RxQueueDrops uint64

	SubmittedActions  uint64
	Retries           uint64
	CompletedActions  uint64
	SuccessfulActions uint64
	FailedActions     uint64

	Connections uint64
}

// Snapshot returns a consistent-enough copy of the counters for reporting.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RxPackets:  m.RxPackets.Load(),
		TxPackets:  m.TxPackets.Load(),
		RxMessages: m.RxMessages.Load(),
		TxMessages: m.TxMessages.Load(),

		DroppedVersion:    m.DroppedVersion.Load(),
		DroppedSeqnum:     m.DroppedSeqnum.Load(),
		DroppedNoEOM:      m.DroppedNoEOM.Load(),
		DroppedNoSOM:      m.DroppedNoSOM.Load(),
		DroppedWrongOwner: m.DroppedWrongOwner.Load(),
		DroppedOverflow:   m.DroppedOverflow.Load(),

		RxQueueDrops: m.RxQueueDrops.Load(),

		SubmittedActions:  m.SubmittedActions.Load(),
		Retries:           m.Retries.Load(),
		CompletedActions:  m.CompletedActions.Load(),
		SuccessfulActions: m.SuccessfulActions.Load(),
		FailedActions:     m.FailedActions.Load(),

		Connections: m.Connections.Load(),
	}
}

// TotalDropped sums every reassembler drop counter.
func (m *Metrics) TotalDropped() uint64 {
	return m.DroppedVersion.Load() +
		m.DroppedSeqnum.Load() +
		m.DroppedNoEOM.Load() +
		m.DroppedNoSOM.Load() +
		m.DroppedWrongOwner.Load() +
		m.DroppedOverflow.Load()
}
