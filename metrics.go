package cryptdev

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// targetMetrics are the per-target collectors
type targetMetrics struct {
	requests       *prometheus.CounterVec
	sectors        *prometheus.CounterVec
	sectorFailures *prometheus.CounterVec
	busy           prometheus.Counter
	inflight       prometheus.Gauge
	duration       *prometheus.HistogramVec

	registerer prometheus.Registerer
}

func newTargetMetrics(name string, reg prometheus.Registerer) (*targetMetrics, error) {
	labels := prometheus.Labels{"target": name}

	m := &targetMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cryptdev_requests_total",
				Help:        "Total number of block requests by command and outcome",
				ConstLabels: labels,
			},
			[]string{"cmd", "status"},
		),
		sectors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cryptdev_sectors_total",
				Help:        "Total number of sector cipher jobs completed",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		sectorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cryptdev_sector_failures_total",
				Help:        "Total number of sector cipher jobs that failed",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		busy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "cryptdev_provider_busy_total",
				Help:        "Total number of cipher jobs resubmitted after a busy status",
				ConstLabels: labels,
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "cryptdev_requests_inflight",
				Help:        "Number of block requests currently in flight",
				ConstLabels: labels,
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "cryptdev_request_duration_seconds",
				Help:        "Block request duration in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"cmd"},
		),
		registerer: reg,
	}

	if reg != nil {
		for i, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				for _, done := range m.collectors()[:i] {
					reg.Unregister(done)
				}
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *targetMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests, m.sectors, m.sectorFailures, m.busy, m.inflight, m.duration,
	}
}

func (m *targetMetrics) unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
}

// observeRequest records a finished request
func (m *targetMetrics) observeRequest(cmd Cmd, start time.Time, err error) {
	m.requests.WithLabelValues(cmd.String(), requestStatus(err)).Inc()
	m.duration.WithLabelValues(cmd.String()).Observe(time.Since(start).Seconds())
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSectorCryptoFailed):
		return "crypto_error"
	case errors.Is(err, ErrUnderlyingIOFailed):
		return "io_error"
	default:
		return "rejected"
	}
}
