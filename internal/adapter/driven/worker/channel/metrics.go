package channel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeClosed   = "closed"
	outcomeCanceled = "canceled"
	outcomeError    = "error"
)

const (
	dropParse           = "parse"
	dropNoTarget        = "no_target"
	dropUnknownResponse = "unknown_response"
)

// Metrics holds the Prometheus collectors shared by every channel of a
// process. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ya",
			Subsystem: "worker_channel",
			Name:      "requests_total",
			Help:      "Requests sent to the worker by outcome",
		}, []string{"channel", "method", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ya",
			Subsystem: "worker_channel",
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to its response",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"channel", "method"}),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ya",
			Subsystem: "worker_channel",
			Name:      "requests_in_flight",
			Help:      "Requests waiting for a worker response",
		}, []string{"channel"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ya",
			Subsystem: "worker_channel",
			Name:      "notifications_total",
			Help:      "Notifications dispatched to subscribers",
		}, []string{"channel", "event"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ya",
			Subsystem: "worker_channel",
			Name:      "notifications_dropped_total",
			Help:      "Incoming messages that were logged and dropped",
		}, []string{"channel", "reason"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.inFlight, m.notifications, m.dropped} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(channel, method, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(channel, method, outcome).Inc()
	if outcome == outcomeOK || outcome == outcomeRejected {
		m.duration.WithLabelValues(channel, method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) addInFlight(channel string, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(channel).Add(delta)
}

func (m *Metrics) notification(channel, event string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, event).Inc()
}

func (m *Metrics) drop(channel, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channel, reason).Inc()
}
