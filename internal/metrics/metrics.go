// Package metrics provides the bot's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	threadsCreated    *prometheus.CounterVec
	threadAttempts    *prometheus.CounterVec
	itemsPosted       prometheus.Counter
	deliveryFailures  *prometheus.CounterVec
	videoDuplicates   prometheus.Counter
	selectionsPending prometheus.Gauge
	deliveryDuration  *prometheus.HistogramVec
	referralPreviews  *prometheus.CounterVec
}

// New creates and registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		threadsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbot_threads_created_total",
			Help: "Threads successfully created, by kind (batch, video)",
		}, []string{"kind"}),
		threadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbot_thread_attempts_total",
			Help: "Thread creation attempts, by outcome",
		}, []string{"outcome"}),
		itemsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbot_items_posted_total",
			Help: "Media items posted by the ordered poster",
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbot_delivery_failures_total",
			Help: "Terminal delivery failures, by stage",
		}, []string{"stage"}),
		videoDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbot_videos_duplicate_total",
			Help: "Video links rejected as already posted",
		}),
		selectionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadbot_selections_pending",
			Help: "Delivery selections waiting for a choice",
		}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadbot_delivery_duration_seconds",
			Help:    "End-to-end orchestration duration, by mode",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"mode"}),
		referralPreviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbot_referral_previews_total",
			Help: "Referral link previews, by the source that produced them",
		}, []string{"source"}),
	}
	reg.MustRegister(
		m.threadsCreated,
		m.threadAttempts,
		m.itemsPosted,
		m.deliveryFailures,
		m.videoDuplicates,
		m.selectionsPending,
		m.deliveryDuration,
		m.referralPreviews,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ThreadCreated(kind string) {
	if m == nil {
		return
	}
	m.threadsCreated.WithLabelValues(kind).Inc()
}

// ThreadAttempt records one provisioning attempt: "ok", "transient",
// "permission" or "unexpected".
func (m *Metrics) ThreadAttempt(outcome string) {
	if m == nil {
		return
	}
	m.threadAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ItemPosted() {
	if m == nil {
		return
	}
	m.itemsPosted.Inc()
}

// DeliveryFailed records a terminal failure at stage "prepare", "thread",
// "post", "video" or "referral".
func (m *Metrics) DeliveryFailed(stage string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(stage).Inc()
}

// ReferralPreview records one preview: "http", "mobile", "browser" or "fallback".
func (m *Metrics) ReferralPreview(source string) {
	if m == nil {
		return
	}
	m.referralPreviews.WithLabelValues(source).Inc()
}

func (m *Metrics) VideoDuplicate() {
	if m == nil {
		return
	}
	m.videoDuplicates.Inc()
}

func (m *Metrics) SelectionOpened() {
	if m == nil {
		return
	}
	m.selectionsPending.Inc()
}

func (m *Metrics) SelectionClosed() {
	if m == nil {
		return
	}
	m.selectionsPending.Dec()
}

func (m *Metrics) ObserveDelivery(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.WithLabelValues(mode).Observe(d.Seconds())
}
