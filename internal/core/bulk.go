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

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a BulkMatcher. Zero values select the defaults.
type Options struct {
	Workers   int  // Scheduler pool size. Default DefaultWorkers().
	ChunkSize int  // Candidates per work item. Default DefaultChunkSize.
	QueueSize int  // Per-worker queue capacity. Default DefaultQueueSize.
	Affinity  bool // Pin scheduler workers to CPU cores on Linux.

	// Operation labels the metrics of this matcher. Default "match".
	Operation string

	Logger *zap.Logger
}

// BulkMatcher evaluates one compiled pattern against a candidate set.
// Large sets are split into chunks that run on a Scheduler; the scheduler is started on
// the first call that needs it and lives until Close.
type BulkMatcher struct {
	opts   Options
	logger *zap.Logger

	once     sync.Once
	sched    *Scheduler
	schedErr error

	closed   atomic.Bool
	progress *rate.Sometimes
}

// NewBulkMatcher validates opts and returns a matcher. No goroutines are started until a
// call exceeds one chunk.
func NewBulkMatcher(opts Options) (*BulkMatcher, error) {
	if opts.Workers < 0 || opts.Workers > MaxWorkers {
		return nil, fmt.Errorf("workers must be between 0 and %d, got %d", MaxWorkers, opts.Workers)
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must not be negative, got %d", opts.ChunkSize)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Operation == "" {
		opts.Operation = "match"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkMatcher{
		opts:     opts,
		logger:   logger,
		progress: &rate.Sometimes{Interval: ProgressLogInterval},
	}, nil
}

// ChunkSize returns the number of candidates per work item.
func (b *BulkMatcher) ChunkSize() int {
	return b.opts.ChunkSize
}

func (b *BulkMatcher) scheduler() (*Scheduler, error) {
	b.once.Do(func() {
		b.sched, b.schedErr = NewScheduler(context.Background(), SchedulerOptions{
			Workers:   b.opts.Workers,
			QueueSize: b.opts.QueueSize,
			Affinity:  b.opts.Affinity,
			Logger:    b.logger,
		})
	})
	return b.sched, b.schedErr
}

// chunkStats counts the work done by one range.
type chunkStats struct {
	compared, skipped, found int
}

// matchRange writes the verdict of every candidate into out, which has the same length.
func matchRange(p mask.Pattern, candidates []string, out []bool) chunkStats {
	var st chunkStats
	for i, c := range candidates {
		if !p.SameLength(c) {
			st.skipped++
			continue
		}
		st.compared++
		if p.Match(c) {
			out[i] = true
			st.found++
		}
	}
	return st
}

// MatchAll returns one verdict per candidate, in candidate order.
// An empty candidate set yields an empty result. If ctx is cancelled or a chunk panics the
// whole call fails and no partial result is returned.
func (b *BulkMatcher) MatchAll(ctx context.Context, pattern mask.Pattern, candidates []string) ([]bool, error) {
	results := make([]bool, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := metrics.GetMetrics()
	op := b.opts.Operation
	defer metrics.MeasureDuration(m.MatchDuration, prometheus.Labels{"operation": op})()

	if len(candidates) <= b.opts.ChunkSize {
		st := matchRange(pattern, candidates, results)
		m.RecordMatch(op, st.compared, st.skipped, st.found)
		return results, nil
	}

	if b.closed.Load() {
		return nil, ErrSchedulerShutdown
	}
	sched, err := b.scheduler()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		failErr  error

		compared, skipped, found atomic.Int64
	)
	fail := func(err error) {
		failOnce.Do(func() {
			failErr = err
			cancel()
		})
	}

	key := pattern.String()
	size := b.opts.ChunkSize
	chunks := (len(candidates) + size - 1) / size
	enabled := metrics.IsMetricsEnabled()

	callback := func(item *WorkItem) error {
		st := matchRange(pattern, candidates[item.Start:item.End], results[item.Start:item.End])
		compared.Add(int64(st.compared))
		skipped.Add(int64(st.skipped))
		found.Add(int64(st.found))
		return nil
	}
	done := func(err error) {
		if enabled {
			if err != nil {
				m.SchedulerWorkFailed.WithLabelValues(op, errorType(err)).Inc()
			} else {
				m.SchedulerWorkCompleted.WithLabelValues(op).Inc()
			}
		}
		if err != nil {
			fail(err)
		}
		wg.Done()
	}

	for i := 0; i < chunks; i++ {
		start := i * size
		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}

		wg.Add(1)
		if err := sched.SubmitWork(runCtx, Chunk{Key: key, Index: i, Start: start, End: end}, callback, done); err != nil {
			wg.Done()
			fail(err)
			break
		}
		if enabled {
			m.SchedulerWorkSubmitted.WithLabelValues(op).Inc()
		}

		b.progress.Do(func() {
			b.logger.Debug("bulk match in progress",
				zap.String("pattern", key),
				zap.Int("chunks_submitted", i+1),
				zap.Int("chunks_total", chunks),
				zap.Int("candidates", len(candidates)))
		})
	}

	wg.Wait()

	if failErr == nil {
		failErr = ctx.Err()
	}
	if failErr != nil {
		return nil, fmt.Errorf("bulk match of %q: %w", key, failErr)
	}

	m.RecordMatch(op, int(compared.Load()), int(skipped.Load()), int(found.Load()))
	return results, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrSchedulerShutdown):
		return "shutdown"
	case errors.Is(err, ErrWorkerPanic):
		return "panic"
	default:
		return "other"
	}
}

// Close shuts the scheduler down after in-flight chunks finish. Later calls that need the
// scheduler fail with ErrSchedulerShutdown; calls small enough to run inline still work.
func (b *BulkMatcher) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	// Prevent a lazy start after Close.
	b.once.Do(func() { b.schedErr = ErrSchedulerShutdown })
	if b.sched != nil {
		b.sched.Shutdown()
	}
}
