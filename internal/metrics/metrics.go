package metrics

/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry          = prometheus.NewRegistry()
	defaultRegisterer = promauto.With(registry)
	metricsEnabled    atomic.Bool
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Matching metrics
	MatchDuration      *prometheus.HistogramVec
	CandidatesCompared *prometheus.CounterVec
	CandidatesSkipped  *prometheus.CounterVec
	MatchesFound       *prometheus.CounterVec

	// Queue metrics
	QueueSize     *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec
	QueuePressure *prometheus.GaugeVec

	// Worker metrics
	WorkerBusy      *prometheus.GaugeVec
	WorkerProcessed *prometheus.CounterVec
	WorkerPanics    *prometheus.CounterVec

	// Scheduler metrics
	SchedulerWorkSubmitted *prometheus.CounterVec
	SchedulerWorkCompleted *prometheus.CounterVec
	SchedulerWorkFailed    *prometheus.CounterVec

	// Index metrics
	IndexCandidates prometheus.Gauge
	IndexDropped    prometheus.Gauge
	IndexReloads    *prometheus.CounterVec

	// Source metrics
	FetchDuration *prometheus.HistogramVec
	FetchTotal    *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRateLimited     prometheus.Counter
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled.Store(true)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &Metrics{
		MatchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unmask_match_duration_seconds",
				Help:    "Time spent evaluating one masked pattern against the candidate set",
				Buckets: buckets,
			},
			[]string{"operation"},
		),
		CandidatesCompared: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_candidates_compared_total",
				Help: "Total number of candidates compared character by character",
			},
			[]string{"operation"},
		),
		CandidatesSkipped: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_candidates_skipped_total",
				Help: "Total number of candidates rejected on length alone",
			},
			[]string{"operation"},
		),
		MatchesFound: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_matches_found_total",
				Help: "Total number of candidates that matched a pattern",
			},
			[]string{"operation"},
		),

		QueueSize: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unmask_queue_size",
				Help: "Current size of worker queues",
			},
			[]string{"worker_id"},
		),
		QueueCapacity: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unmask_queue_capacity",
				Help: "Maximum capacity of worker queues",
			},
			[]string{"worker_id"},
		),
		QueuePressure: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unmask_queue_pressure",
				Help: "Queue pressure as a ratio of current size to capacity (0-1)",
			},
			[]string{"worker_id"},
		),

		WorkerBusy: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "unmask_worker_busy",
				Help: "Whether a worker is currently busy (1) or idle (0)",
			},
			[]string{"worker_id"},
		),
		WorkerProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_worker_processed_total",
				Help: "Total number of chunks processed by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),

		SchedulerWorkSubmitted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_scheduler_work_submitted_total",
				Help: "Total number of work items submitted to the scheduler",
			},
			[]string{"operation"},
		),
		SchedulerWorkCompleted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_scheduler_work_completed_total",
				Help: "Total number of work items completed by the scheduler",
			},
			[]string{"operation"},
		),
		SchedulerWorkFailed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_scheduler_work_failed_total",
				Help: "Total number of work items that failed processing",
			},
			[]string{"operation", "error_type"},
		),

		IndexCandidates: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "unmask_index_candidates",
				Help: "Number of candidates in the active index",
			},
		),
		IndexDropped: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "unmask_index_dropped_candidates",
				Help: "Number of entries dropped by the validator on the last load",
			},
		),
		IndexReloads: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_index_reloads_total",
				Help: "Total number of candidate set loads",
			},
			[]string{"status"},
		),

		FetchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unmask_source_fetch_duration_seconds",
				Help:    "Time spent fetching candidate sources",
				Buckets: buckets,
			},
			[]string{"kind"},
		),
		FetchTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_source_fetch_total",
				Help: "Total number of candidate source fetches",
			},
			[]string{"kind", "status"},
		),

		HTTPRequests: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unmask_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"endpoint", "status"},
		),
		HTTPRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unmask_http_request_duration_seconds",
				Help:    "Time spent serving API requests",
				Buckets: buckets,
			},
			[]string{"endpoint"},
		),
		HTTPRateLimited: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "unmask_http_rate_limited_total",
				Help: "Number of API requests rejected by the admission limiter",
			},
		),
	}

	return m
}

// Handler exposes the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is done.
// It returns nil when metrics are disabled or addr is empty.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if !IsMetricsEnabled() || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram *prometheus.HistogramVec, labels prometheus.Labels) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		histogram.With(labels).Observe(time.Since(start).Seconds())
	}
}

// UpdateQueueMetrics updates queue metrics for a worker
func (m *Metrics) UpdateQueueMetrics(workerID, queueSize, queueCapacity int) {
	if !IsMetricsEnabled() {
		return
	}

	id := strconv.Itoa(workerID)
	m.QueueSize.WithLabelValues(id).Set(float64(queueSize))
	m.QueueCapacity.WithLabelValues(id).Set(float64(queueCapacity))

	if queueCapacity > 0 {
		m.QueuePressure.WithLabelValues(id).Set(float64(queueSize) / float64(queueCapacity))
	}
}

// RecordMatch records the outcome of one bulk evaluation.
func (m *Metrics) RecordMatch(operation string, compared, skipped, found int) {
	if !IsMetricsEnabled() {
		return
	}
	m.CandidatesCompared.WithLabelValues(operation).Add(float64(compared))
	m.CandidatesSkipped.WithLabelValues(operation).Add(float64(skipped))
	m.MatchesFound.WithLabelValues(operation).Add(float64(found))
}

// RecordIndex records a candidate set load.
func (m *Metrics) RecordIndex(candidates, dropped int, err error) {
	if !IsMetricsEnabled() {
		return
	}
	if err != nil {
		m.IndexReloads.WithLabelValues("error").Inc()
		return
	}
	m.IndexReloads.WithLabelValues("ok").Inc()
	m.IndexCandidates.Set(float64(candidates))
	m.IndexDropped.Set(float64(dropped))
}
