package mctp

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes an endpoint's counters as Prometheus metrics.
// Register it with a prometheus.Registerer:
//
//	prometheus.MustRegister(mctp.NewCollector(ep))
type Collector struct {
	ep    *Endpoint
	infos []collectorInfo
}

type collectorInfo struct {
	desc     *prometheus.Desc
	typ      prometheus.ValueType
	supplier func(s MetricsSnapshot) float64
}

func counterInfo(name, help string, supplier func(s MetricsSnapshot) float64) collectorInfo {
	return collectorInfo{
		desc:     prometheus.NewDesc(name, help, nil, nil),
		typ:      prometheus.CounterValue,
		supplier: supplier,
	}
}

// NewCollector creates a collector for ep.
func NewCollector(ep *Endpoint) *Collector {
	return &Collector{
		ep: ep,
		infos: []collectorInfo{
			counterInfo("mctp_rx_packets_total", "Packets read from the stream.",
				func(s MetricsSnapshot) float64 { return float64(s.RxPackets) }),
			counterInfo("mctp_tx_packets_total", "Packets written to the stream.",
				func(s MetricsSnapshot) float64 { return float64(s.TxPackets) }),
			counterInfo("mctp_rx_messages_total", "Messages fully reassembled.",
				func(s MetricsSnapshot) float64 { return float64(s.RxMessages) }),
			counterInfo("mctp_tx_messages_total", "Messages fragmented for transmit.",
				func(s MetricsSnapshot) float64 { return float64(s.TxMessages) }),
			counterInfo("mctp_dropped_version_total", "Packets dropped for a bad header version.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedVersion) }),
			counterInfo("mctp_dropped_seqnum_total", "Packets dropped for a sequence gap.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedSeqnum) }),
			counterInfo("mctp_dropped_noeom_total", "Partial messages discarded for a lost end-of-message.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedNoEOM) }),
			counterInfo("mctp_dropped_nosom_total", "Continuation packets dropped with no start-of-message.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedNoSOM) }),
			counterInfo("mctp_dropped_wrong_owner_total", "Partial messages discarded for a tag-owner mismatch.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedWrongOwner) }),
			counterInfo("mctp_dropped_overflow_total", "Packets dropped that would overflow the payload cap.",
				func(s MetricsSnapshot) float64 { return float64(s.DroppedOverflow) }),
			counterInfo("mctp_rx_queue_drops_total", "Packets dropped because the receive queue was full.",
				func(s MetricsSnapshot) float64 { return float64(s.RxQueueDrops) }),
			counterInfo("mctp_submitted_actions_total", "Requests admitted to a tag slot.",
				func(s MetricsSnapshot) float64 { return float64(s.SubmittedActions) }),
			counterInfo("mctp_retries_total", "Re-transmissions of unanswered requests.",
				func(s MetricsSnapshot) float64 { return float64(s.Retries) }),
			counterInfo("mctp_completed_actions_total", "Actions that reached a terminal state.",
				func(s MetricsSnapshot) float64 { return float64(s.CompletedActions) }),
			counterInfo("mctp_failed_actions_total", "Actions that failed or exhausted retries.",
				func(s MetricsSnapshot) float64 { return float64(s.FailedActions) }),
			counterInfo("mctp_connections_total", "Connections accepted or established.",
				func(s MetricsSnapshot) float64 { return float64(s.Connections) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	s := c.ep.Metrics().Snapshot()
	for _, info := range c.infos {
		metrics <- prometheus.MustNewConstMetric(info.desc, info.typ, info.supplier(s))
	}
}
