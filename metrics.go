package uploadkit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	uploads       *prometheus.CounterVec
	retries       prometheus.Counter
	validations   *prometheus.CounterVec
	uploadedBytes prometheus.Counter
	inFlight      prometheus.Gauge
	duration      prometheus.Histogram
}

// newMetrics builds the queue collectors on reg. A nil reg creates them
// without registering, so several managers can coexist in tests.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadkit_uploads_total",
			Help: "Finished uploads by terminal status.",
		}, []string{"status"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "uploadkit_retries_total",
			Help: "Scheduled upload retries.",
		}),
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadkit_validation_total",
			Help: "Security validations by result (passed, rejected).",
		}, []string{"result"}),
		uploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "uploadkit_uploaded_bytes_total",
			Help: "Bytes of successfully uploaded files.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "uploadkit_in_flight",
			Help: "Transfers currently in progress.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "uploadkit_upload_duration_seconds",
			Help:    "Time from first attempt to completion.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}
