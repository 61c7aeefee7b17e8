package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine-level Prometheus counters/gauges: messages
// sent/received, keyMismatch occurrences, skipped-cache size per session,
// and rekey count. Nil-safe: a *Metrics built with a nil registerer still
// increments its internal counters, it just never gets scraped.
type Metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	keyMismatches    prometheus.Counter
	rekeys           prometheus.Counter
	skippedCacheSize prometheus.Gauge
}

// NewMetrics registers the engine's counters against reg. A nil reg is
// accepted for tests and for callers who don't want a /metrics endpoint;
// the counters still work, they are just unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veilnode_messages_sent_total",
			Help: "Inner payloads successfully sealed and published.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veilnode_messages_received_total",
			Help: "Inner payloads successfully opened and applied.",
		}),
		keyMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veilnode_key_mismatches_total",
			Help: "Inbound envelopes that failed to open under the session's derived key.",
		}),
		rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veilnode_rekeys_total",
			Help: "Sessions reset via the rekey inner payload.",
		}),
		skippedCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veilnode_skipped_cache_size",
			Help: "Size of the last-observed skipped-key cache for a session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messagesSent, m.messagesReceived, m.keyMismatches, m.rekeys, m.skippedCacheSize)
	}
	return m
}

func (m *Metrics) sent()               { m.messagesSent.Inc() }
func (m *Metrics) received()           { m.messagesReceived.Inc() }
func (m *Metrics) keyMismatch()        { m.keyMismatches.Inc() }
func (m *Metrics) rekeyed()            { m.rekeys.Inc() }
func (m *Metrics) observeSkipped(n int) { m.skippedCacheSize.Set(float64(n)) }
