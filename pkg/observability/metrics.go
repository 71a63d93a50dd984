package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons used as label values.
const (
	DropDecode       = "decode"
	DropInvalid      = "invalid"
	DropSelfEcho     = "self_echo"
	DropUnknownClass = "unknown_class"
)

// Metrics holds the coordinator collectors. A nil *Metrics records nothing.
type Metrics struct {
	published     *prometheus.CounterVec
	received      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	previews      *prometheus.CounterVec
	onlinePeers   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raycon_drag",
				Name:      "messages_published_total",
				Help:      "Messages published by this peer.",
			},
			[]string{"channel", "type"},
		),
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raycon_drag",
				Name:      "messages_received_total",
				Help:      "Messages accepted from other peers.",
			},
			[]string{"channel", "type"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raycon_drag",
				Name:      "messages_dropped_total",
				Help:      "Inbound messages discarded before dispatch.",
			},
			[]string{"reason"},
		),
		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raycon_drag",
				Name:      "publish_errors_total",
				Help:      "Publish failures per channel.",
			},
			[]string{"channel"},
		),
		previews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raycon_drag",
				Name:      "previews_total",
				Help:      "Preview lifecycle outcomes.",
			},
			[]string{"outcome"},
		),
		onlinePeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "raycon_drag",
				Name:      "online_peers",
				Help:      "Peers heard from within the presence timeout.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.received, m.dropped, m.publishErrors, m.previews, m.onlinePeers)
	}
	return m
}

func (m *Metrics) Published(channel, typ string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(channel, typ).Inc()
}

func (m *Metrics) Received(channel, typ string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(channel, typ).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PublishError(channel string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(channel).Inc()
}

// Preview records a preview outcome: created, promoted or removed.
func (m *Metrics) Preview(outcome string) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OnlinePeers(n int) {
	if m == nil {
		return
	}
	m.onlinePeers.Set(float64(n))
}
