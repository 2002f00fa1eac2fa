package remotesigner

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the engine's operational counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	pending         prometheus.Gauge
	approved        prometheus.Counter
	dismissed       prometheus.Counter
	decryptFailures prometheus.Counter
	published       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyhaven_signer_pending_requests",
			Help: "Signing requests waiting for approval.",
		}),
		approved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyhaven_signer_approved_total",
			Help: "Signing requests approved and answered.",
		}),
		dismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyhaven_signer_dismissed_total",
			Help: "Signing requests dismissed without reply.",
		}),
		decryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyhaven_signer_decrypt_failures_total",
			Help: "Inbound messages dropped because they failed decryption.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyhaven_signer_published_total",
			Help: "Messages published to the relay.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pending, m.approved, m.dismissed, m.decryptFailures, m.published)
	}
	return m
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) incApproved() {
	if m == nil {
		return
	}
	m.approved.Inc()
}

func (m *Metrics) incDismissed() {
	if m == nil {
		return
	}
	m.dismissed.Inc()
}

func (m *Metrics) incDecryptFailure() {
	if m == nil {
		return
	}
	m.decryptFailures.Inc()
}

func (m *Metrics) incPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}
