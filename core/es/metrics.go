package es

import "github.com/codewandler/streamstore/core/metrics"

// ESMetrics defines the metrics of the event store and repositories.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreFetchDuration(streamType string) metrics.Timer
	StoreCommitDuration() metrics.Timer
	EventsAppended(streamType string, count int)
	ConcurrencyViolation(streamType string)
	EventPublished(eventType string, success bool)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration() metrics.Timer
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreFetchDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) StoreCommitDuration() metrics.Timer      { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)              {}
func (nopESMetrics) ConcurrencyViolation(string)             {}
func (nopESMetrics) EventPublished(string, bool)             {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration() metrics.Timer       { return metrics.NopTimer() }

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// ESMetricsOption sets the metrics for ES components.
type ESMetricsOption struct{ m ESMetrics }

// WithMetrics sets the metrics implementation for ES components.
func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{m: m} }

func (o ESMetricsOption) applyToEnv(e *envOptions)      { e.metrics = o.m }
func (o ESMetricsOption) applyToStore(s *storeOpts)     { s.metrics = o.m }
func (o ESMetricsOption) applyToRepository(r *repoOpts) { r.metrics = o.m }
