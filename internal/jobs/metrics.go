package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes job throughput, latency and backlog to prometheus. A nil *Metrics records nothing.
type Metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	backlog   prometheus.GaugeFunc
}

// NewMetrics registers the job collectors on reg. backlog reports the current queue length.
func NewMetrics(reg prometheus.Registerer, backlog func() int) (*Metrics, error) {
	m := &Metrics{
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_jobs_processed_total",
				Help: "Total number of background jobs that reached a terminal status.",
			},
			[]string{"type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "folio_job_duration_seconds",
				Help:    "Time spent executing background jobs.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"type"},
		),
		backlog: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "folio_job_queue_length",
				Help: "Number of work items waiting for the dispatcher.",
			},
			func() float64 { return float64(backlog()) },
		),
	}
	for _, collector := range []prometheus.Collector{m.processed, m.duration, m.backlog} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(jobType Type, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(string(jobType), string(status)).Inc()
	m.duration.WithLabelValues(string(jobType)).Observe(elapsed.Seconds())
}
