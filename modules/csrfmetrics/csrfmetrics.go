// Package csrfmetrics exports CSRF verification outcomes as Prometheus metrics.
package csrfmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/romshark/csrfguard"
)

var _ csrfguard.Observer = (*Observer)(nil)

// Observer is a csrfguard.Observer counting verification outcomes.
type Observer struct {
	verifications *prometheus.CounterVec
}

// New creates an Observer and registers its collectors with reg.
// Uses prometheus.DefaultRegisterer if reg is nil.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Observer{
		verifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrfguard_verifications_total",
				Help: "Total number of CSRF verifications by channel and result",
			},
			[]string{"channel", "result"},
		),
	}
}

func (o *Observer) OnVerified(_ *http.Request, ch csrfguard.Channel) {
	o.verifications.WithLabelValues(string(ch), csrfguard.ResultVerified).Inc()
}

func (o *Observer) OnRejected(_ *http.Request, ch csrfguard.Channel, err error) {
	o.verifications.WithLabelValues(string(ch), csrfguard.ResultOf(err)).Inc()
}

// Counter returns the counter of the given channel and result,
// one of the csrfguard.Result constants.
func (o *Observer) Counter(ch csrfguard.Channel, result string) prometheus.Counter {
	return o.verifications.WithLabelValues(string(ch), result)
}

// BrokerMetrics is a msgbroker.Metrics counting published
// and dropped CSRF event messages.
type BrokerMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewBrokerMetrics creates BrokerMetrics and registers its collectors with reg.
// Uses prometheus.DefaultRegisterer if reg is nil.
func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &BrokerMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "csrfguard_events_published_total",
			Help: "Total number of published CSRF event messages by subject",
		}, []string{"subject"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "csrfguard_events_dropped_total",
			Help: "Total number of CSRF event messages dropped for slow subscribers",
		}, []string{"subject"}),
	}
}

func (m *BrokerMetrics) OnPublish(subject string) {
	m.published.WithLabelValues(subject).Inc()
}

func (m *BrokerMetrics) OnDeliveryDropped(subject string) {
	m.dropped.WithLabelValues(subject).Inc()
}
