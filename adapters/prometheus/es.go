package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeFetchDuration    *prometheus.HistogramVec
	storeCommitDuration   prometheus.Histogram
	eventsAppended        *prometheus.CounterVec
	concurrencyViolations *prometheus.CounterVec
	eventsPublished       *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration *prometheus.HistogramVec
	repoSaveDuration prometheus.Histogram
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_fetch_duration_seconds",
			Help:      "Event store fetch latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"stream_type"}),

		storeCommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_commit_duration_seconds",
			Help:      "Event store commit latency in seconds",
			Buckets:   defaultBuckets,
		}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"stream_type"}),

		concurrencyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_violations_total",
			Help:      "Total number of failed stream expectations",
		}, []string{"stream_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events handed to event buses",
		}, []string{"event_type", "success"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}),
	}

	reg.MustRegister(
		m.storeFetchDuration,
		m.storeCommitDuration,
		m.eventsAppended,
		m.concurrencyViolations,
		m.eventsPublished,
		m.repoLoadDuration,
		m.repoSaveDuration,
	)

	return m
}

func (m *esMetrics) StoreFetchDuration(streamType string) metrics.Timer {
	return newTimer(m.storeFetchDuration.WithLabelValues(streamType))
}

func (m *esMetrics) StoreCommitDuration() metrics.Timer {
	return newTimer(m.storeCommitDuration)
}

func (m *esMetrics) EventsAppended(streamType string, count int) {
	m.eventsAppended.WithLabelValues(streamType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyViolation(streamType string) {
	m.concurrencyViolations.WithLabelValues(streamType).Inc()
}

func (m *esMetrics) EventPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration() metrics.Timer {
	return newTimer(m.repoSaveDuration)
}

var _ es.ESMetrics = (*esMetrics)(nil)
