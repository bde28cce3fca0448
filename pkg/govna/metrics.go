package govna

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - счетчики координатора сканирования. Nil-значение допустимо.
type Metrics struct {
	Sweeps         *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
	SegmentReads   prometheus.Counter
	SegmentRetries *prometheus.CounterVec
	TDRPeak        prometheus.Gauge
}

// NewMetrics создает набор метрик и регистрирует его в reg, если reg не nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govna_sweeps_total",
				Help: "Number of sweeps by terminal result",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "govna_sweep_duration_seconds",
				Help:    "Duration of segmented sweeps",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		SegmentReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "govna_segment_reads_total",
				Help: "Number of segment commands issued to the device",
			},
		),
		SegmentRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govna_segment_retries_total",
				Help: "Number of segment retries by cause",
			},
			[]string{"cause"},
		),
		TDRPeak: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "govna_tdr_peak_distance_meters",
				Help: "Distance of the last computed TDR peak",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Sweeps, m.SweepDuration, m.SegmentReads, m.SegmentRetries, m.TDRPeak)
	}
	return m
}

func (m *Metrics) observeSweep(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Sweeps.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) segmentRead() {
	if m == nil {
		return
	}
	m.SegmentReads.Inc()
}

func (m *Metrics) segmentRetry(cause string) {
	if m == nil {
		return
	}
	m.SegmentRetries.WithLabelValues(cause).Inc()
}

func (m *Metrics) tdrPeak(distance float64) {
	if m == nil {
		return
	}
	m.TDRPeak.Set(distance)
}
