// Package metrics defines the Prometheus metrics of the fetch pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values used across the pipeline.
const (
	EndpointList  = "list"
	EndpointImage = "image"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	StoreHit   = "hit"
	StoreMiss  = "miss"
	StoreError = "error"

	ImageFetch  = "fetch"
	ImageJoined = "joined"
	ImageCached = "cached"
)

// FeedMetrics contains Prometheus metrics for monitoring fetches and caches.
// A nil *FeedMetrics is valid and records nothing.
type FeedMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StoreLookups    *prometheus.CounterVec
	ImageRequests   *prometheus.CounterVec
	ListItems       prometheus.Gauge
}

// NewFeedMetrics creates and registers feed metrics with the given registerer.
func NewFeedMetrics(registerer prometheus.Registerer) *FeedMetrics {
	metrics := &FeedMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userfeed_fetch_requests_total",
				Help: "Total number of completed fetches",
			},
			[]string{"endpoint", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userfeed_fetch_duration_seconds",
				Help:    "Time from request start to completion, excluding callback delivery",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		StoreLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userfeed_store_lookups_total",
				Help: "Shared byte store lookups by result",
			},
			[]string{"endpoint", "result"}, // result: hit/miss/error
		),
		ImageRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userfeed_image_requests_total",
				Help: "Image requests by how they were served",
			},
			[]string{"served"}, // served: fetch/joined/cached
		),
		ListItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "userfeed_list_items",
			Help: "Number of items in the current list",
		}),
	}

	registerer.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestDuration,
		metrics.StoreLookups,
		metrics.ImageRequests,
		metrics.ListItems,
	)

	return metrics
}

// ObserveRequest records one completed fetch.
func (m *FeedMetrics) ObserveRequest(endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveStore records one shared store lookup.
func (m *FeedMetrics) ObserveStore(endpoint, result string) {
	if m == nil {
		return
	}
	m.StoreLookups.WithLabelValues(endpoint, result).Inc()
}

// ObserveImage records how an image request was served.
func (m *FeedMetrics) ObserveImage(served string) {
	if m == nil {
		return
	}
	m.ImageRequests.WithLabelValues(served).Inc()
}

// SetListItems records the current list length.
func (m *FeedMetrics) SetListItems(n int) {
	if m == nil {
		return
	}
	m.ListItems.Set(float64(n))
}
