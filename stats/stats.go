// Package stats exposes dispatch and transport counters as Prometheus
// metrics. All methods are nil-receiver safe, so components take an
// optional *Metrics and simply never check it.
package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mtpline/mtpline/types"
)

type Metrics struct {
	queriesSent *prometheus.CounterVec
	floodWaits  prometheus.Counter
	delayed     prometheus.Counter
	dropped     prometheus.Counter

	bytesRead    *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec

	chainDepth prometheus.Gauge
}

// New builds the metric set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "queries_sent_total",
			Help:      "Queries admitted by flood control, by datacenter.",
		}, []string{"dc"}),
		floodWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "flood_waits_total",
			Help:      "Server-issued flood waits fed back into the rate limiter.",
		}),
		delayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "queries_delayed_total",
			Help:      "Queries locally delayed by flood control.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "queries_dropped_total",
			Help:      "Queries dropped by flood control or queue eviction.",
		}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "transport_read_bytes_total",
			Help:      "Bytes read from the network, by transport kind.",
		}, []string{"transport"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtpline",
			Name:      "transport_written_bytes_total",
			Help:      "Bytes written to the network, by transport kind.",
		}, []string{"transport"}),
		chainDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mtpline",
			Name:      "sequence_chain_pending",
			Help:      "Queries pending across all sequence chains.",
		}),
	}

	reg.MustRegister(
		m.queriesSent, m.floodWaits, m.delayed, m.dropped,
		m.bytesRead, m.bytesWritten, m.chainDepth,
	)
	return m
}

func (m *Metrics) QuerySent(dc types.DCID) {
	if m == nil {
		return
	}
	m.queriesSent.WithLabelValues(strconv.Itoa(int(dc))).Inc()
}

func (m *Metrics) FloodWait() {
	if m == nil {
		return
	}
	m.floodWaits.Inc()
}

func (m *Metrics) QueryDelayed() {
	if m == nil {
		return
	}
	m.delayed.Inc()
}

func (m *Metrics) QueryDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) ReadBytes(transport string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) WroteBytes(transport string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) ChainPendingAdd(delta int) {
	if m == nil {
		return
	}
	m.chainDepth.Add(float64(delta))
}
