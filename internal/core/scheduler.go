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
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/unmask/internal/metrics"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// SchedulerOptions configures a Scheduler. Zero values select the defaults.
type SchedulerOptions struct {
	Workers   int         // Number of worker goroutines. Default DefaultWorkers(), capped at MaxWorkers.
	QueueSize int         // Capacity of each worker queue. Default DefaultQueueSize.
	Affinity  bool        // Pin workers to CPU cores where the platform supports it.
	Logger    *zap.Logger // Default zap.NewNop().
}

// Scheduler manages a fixed pool of worker goroutines and dispatches WorkItems to them
// based on a hash of the chunk key plus the chunk index.
type Scheduler struct {
	numWorkers   int
	workers      []*worker          // Slice of worker goroutine managers.
	ctx          context.Context    // Master context for shutdown signalling.
	cancel       context.CancelFunc // Function to stop the workers.
	logger       *zap.Logger
	workItemPool sync.Pool // Pool for reusing WorkItem structs, reducing GC pressure.

	// mu orders activeWork.Add against the shutdown flag, so Shutdown never waits on a
	// WaitGroup that is still growing.
	mu         sync.RWMutex
	shutdown   atomic.Bool
	activeWork sync.WaitGroup // Tracks submitted but unfinished work items.
}

// worker encapsulates a single worker goroutine and its state.
type worker struct {
	id          int
	label       string // id formatted once for metric labels
	cpuAffinity int    // Target CPU core, -1 when affinity is off.
	queue       chan *WorkItem
	scheduler   *Scheduler

	processed atomic.Int64
	panics    atomic.Int64
}

// NewScheduler creates, configures, and starts the scheduler and its worker pool.
func NewScheduler(parentCtx context.Context, opts SchedulerOptions) (*Scheduler, error) {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	if numWorkers > MaxWorkers {
		return nil, fmt.Errorf("worker count %d exceeds maximum %d", numWorkers, MaxWorkers)
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sctx, cancel := context.WithCancel(parentCtx)

	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		ctx:        sctx,
		cancel:     cancel,
		logger:     logger,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	affinity := opts.Affinity && affinitySupported
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			label:       strconv.Itoa(i),
			cpuAffinity: -1,
			queue:       make(chan *WorkItem, queueSize),
			scheduler:   s,
		}
		if affinity {
			w.cpuAffinity = i % runtime.NumCPU()
		}
		s.workers[i] = w
		go w.run()
	}

	logger.Debug("scheduler initialized",
		zap.Int("workers", numWorkers),
		zap.Int("queue_size", queueSize),
		zap.Bool("affinity", affinity))
	return s, nil
}

// NumWorkers returns the size of the worker pool.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// run is the processing loop for a single worker goroutine.
func (w *worker) run() {
	if w.cpuAffinity >= 0 {
		setAffinity(w.scheduler.logger, w.id, w.cpuAffinity)
	}

	for {
		select {
		case <-w.scheduler.ctx.Done():
			w.drain()
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}
			w.process(item)
			item.reset()
			w.scheduler.workItemPool.Put(item)
		}
	}
}

// drain fails the items left in the queue after the scheduler context ended.
func (w *worker) drain() {
	for {
		select {
		case item := <-w.queue:
			if item == nil {
				continue
			}
			if item.done != nil {
				item.done(ErrSchedulerShutdown)
			}
			w.scheduler.release(item)
		default:
			return
		}
	}
}

// process runs one item and reports its outcome through item.done exactly once.
func (w *worker) process(item *WorkItem) {
	m := metrics.GetMetrics()
	enabled := metrics.IsMetricsEnabled()
	if enabled {
		m.WorkerBusy.WithLabelValues(w.label).Set(1)
		m.UpdateQueueMetrics(w.id, len(w.queue), cap(w.queue))
	}

	var err error
	defer func() {
		if enabled {
			m.WorkerBusy.WithLabelValues(w.label).Set(0)
			m.WorkerProcessed.WithLabelValues(w.label).Inc()
		}
		w.processed.Add(1)
		if item.done != nil {
			item.done(err)
		}
		w.scheduler.activeWork.Done()
	}()

	// A cancelled caller no longer wants this chunk.
	if item.Ctx != nil {
		if err = item.Ctx.Err(); err != nil {
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			if enabled {
				m.WorkerPanics.WithLabelValues(w.label).Inc()
			}
			w.scheduler.logger.Error("panic recovered in worker",
				zap.Int("worker", w.id),
				zap.String("key", item.Key),
				zap.Int("chunk", item.Index),
				zap.Int("start", item.Start),
				zap.Int("end", item.End),
				zap.Any("panic", r))
			err = fmt.Errorf("%w: worker %d chunk %d: %v", ErrWorkerPanic, w.id, item.Index, r)
		}
	}()

	err = item.Callback(item)
}

// SubmitWork routes a chunk to a worker queue chosen by hashing the chunk key and adding
// the chunk index, so the chunks of one job spread over consecutive workers.
// It blocks while the target queue is full, until ctx is done or the scheduler shuts down.
// done is called exactly once with the outcome of an accepted item; it is not called when
// SubmitWork returns an error.
func (s *Scheduler) SubmitWork(ctx context.Context, c Chunk, callback WorkCallback, done func(error)) error {
	s.mu.RLock()
	if s.shutdown.Load() {
		s.mu.RUnlock()
		return ErrSchedulerShutdown
	}
	s.activeWork.Add(1)
	s.mu.RUnlock()

	shardIndex := int((xxh3.HashString(c.Key) + uint64(c.Index)) % uint64(s.numWorkers))
	target := s.workers[shardIndex]

	item := s.workItemPool.Get().(*WorkItem)
	item.Chunk = c
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()
	item.done = done

	// Fast path: room in the queue.
	select {
	case target.queue <- item:
		return nil
	default:
	}

	s.logger.Debug("worker queue full, waiting",
		zap.Int("worker", target.id),
		zap.Int("queue_capacity", cap(target.queue)))

	select {
	case target.queue <- item:
		return nil
	case <-ctx.Done():
		s.release(item)
		return ctx.Err()
	case <-s.ctx.Done():
		s.release(item)
		return ErrSchedulerShutdown
	}
}

func (s *Scheduler) release(item *WorkItem) {
	item.reset()
	s.workItemPool.Put(item)
	s.activeWork.Done()
}

// Wait waits until all submitted work items have been processed.
func (s *Scheduler) Wait() {
	s.activeWork.Wait()
}

// Shutdown stops accepting work, drains the items already submitted and then stops the
// workers. It is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	first := s.shutdown.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !first {
		return
	}

	s.logger.Debug("scheduler shutting down")
	drained := make(chan struct{})
	go func() {
		s.activeWork.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-s.ctx.Done():
		// The parent context already stopped the workers.
	}
	s.cancel()

	var processed, panics int64
	for _, w := range s.workers {
		processed += w.processed.Load()
		panics += w.panics.Load()
	}
	s.logger.Debug("scheduler stopped",
		zap.Int64("items_processed", processed),
		zap.Int64("panics", panics))
}
