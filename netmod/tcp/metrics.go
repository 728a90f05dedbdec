package tcp

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsTable tracks per-peer counters, keyed by remote address,
// exported through the standard prometheus client, adapted from the
// teacher's stats registries but scoped to this transport's own
// concerns (bytes, RTT, pending-buffer depth) rather than the
// teacher's object-storage metrics, grounded on
// original_source/netmods/netmod-inet's useful_netmod_bits::metrics::MetricsTable.
type metricsTable struct {
	mu   sync.Mutex
	byPeer map[string]*peerMetrics

	bytesRead    *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	rtt          *prometheus.GaugeVec
	pending      *prometheus.GaugeVec
}

type peerMetrics struct {
	lastActivity time.Time
	pendingBytes int64
}

func newMetricsTable(reg prometheus.Registerer) *metricsTable {
	m := &metricsTable{
		byPeer: make(map[string]*peerMetrics),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratman", Subsystem: "tcp", Name: "bytes_read_total",
			Help: "Bytes read from a TCP peering session.",
		}, []string{"peer"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratman", Subsystem: "tcp", Name: "bytes_written_total",
			Help: "Bytes written to a TCP peering session.",
		}, []string{"peer"}),
		rtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ratman", Subsystem: "tcp", Name: "rtt_seconds",
			Help: "Last observed round-trip estimate to a peer.",
		}, []string{"peer"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ratman", Subsystem: "tcp", Name: "pending_bytes",
			Help: "Bytes queued for send but not yet flushed to a peer.",
		}, []string{"peer"}),
	}
	if reg != nil {
		reg.MustRegister(m.bytesRead, m.bytesWritten, m.rtt, m.pending)
	}
	return m
}

func (m *metricsTable) entry(peer string) *peerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.byPeer[peer]
	if !ok {
		pm = &peerMetrics{}
		m.byPeer[peer] = pm
	}
	return pm
}

func (m *metricsTable) appendRead(peer string, n int) {
	m.bytesRead.WithLabelValues(peer).Add(float64(n))
	e := m.entry(peer)
	m.mu.Lock()
	e.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *metricsTable) appendWrite(peer string, n int) {
	m.bytesWritten.WithLabelValues(peer).Add(float64(n))
	e := m.entry(peer)
	m.mu.Lock()
	e.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *metricsTable) setRTT(peer string, d time.Duration) {
	m.rtt.WithLabelValues(peer).Set(d.Seconds())
}

func (m *metricsTable) setPending(peer string, n int64) {
	m.pending.WithLabelValues(peer).Set(float64(n))
	e := m.entry(peer)
	m.mu.Lock()
	e.pendingBytes = n
	m.mu.Unlock()
}

func (m *metricsTable) remove(peer string) {
	m.bytesRead.DeleteLabelValues(peer)
	m.bytesWritten.DeleteLabelValues(peer)
	m.rtt.DeleteLabelValues(peer)
	m.pending.DeleteLabelValues(peer)
	m.mu.Lock()
	delete(m.byPeer, peer)
	m.mu.Unlock()
}
