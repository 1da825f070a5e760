// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge/Histogram）
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HalleyMetrics 全局指标集合
type HalleyMetrics struct {
	// 连接相关
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	HandshakesTotal   *prometheus.CounterVec

	// 数据报相关
	PacketsTotal  *prometheus.CounterVec
	BytesTotal    *prometheus.CounterVec
	SubPackets    *prometheus.CounterVec

	// 可靠层相关
	AcksProcessed     prometheus.Counter
	DuplicatesDropped prometheus.Counter
	ResendsSeen       prometheus.Counter
	StaleAcks         prometheus.Counter
	WindowOverruns    prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec

	// 延迟相关
	AckLatency prometheus.Histogram
	RTT        prometheus.Gauge
}

// NewHalleyMetrics 创建指标集合
func NewHalleyMetrics(registry *prometheus.Registry) *HalleyMetrics {
	m := &HalleyMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "halley",
			Name:      "active_connections",
			Help:      "Number of currently active connections",
		}),

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "connections_total",
			Help:      "Total number of connections",
		}, []string{"status"}),

		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "handshakes_total",
			Help:      "Total handshake attempts",
		}, []string{"result"}),

		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "packets_total",
			Help:      "Total datagrams processed",
		}, []string{"direction"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "bytes_total",
			Help:      "Total bytes processed",
		}, []string{"direction"}),

		SubPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "sub_packets_total",
			Help:      "Total sub-packets packed/unpacked",
		}, []string{"direction"}),

		AcksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "acks_processed_total",
			Help:      "Total sequence numbers newly acknowledged",
		}),

		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "duplicates_dropped_total",
			Help:      "Total duplicate sub-packets suppressed",
		}),

		ResendsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "resends_seen_total",
			Help:      "Total sub-packets carrying the resend flag",
		}),

		StaleAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "stale_acks_total",
			Help:      "Total ack sets ignored for being too old",
		}),

		WindowOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "window_overruns_total",
			Help:      "Total connections closed due to sequence window overrun",
		}),

		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halley",
			Name:      "protocol_errors_total",
			Help:      "Total protocol errors by type",
		}, []string{"type"}),

		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "halley",
			Name:      "ack_latency_seconds",
			Help:      "Round trip latency measured per first ack",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		RTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "halley",
			Name:      "rtt_seconds",
			Help:      "Smoothed RTT to peer",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.ActiveConnections,
			m.ConnectionsTotal,
			m.HandshakesTotal,
			m.PacketsTotal,
			m.BytesTotal,
			m.SubPackets,
			m.AcksProcessed,
			m.DuplicatesDropped,
			m.ResendsSeen,
			m.StaleAcks,
			m.WindowOverruns,
			m.ProtocolErrors,
			m.AckLatency,
			m.RTT,
		)
	}

	return m
}
