package core

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
	"runtime"
	"time"
)

// Common constants
const (
	// WorkerMultiplier is the multiplier for the number of workers
	WorkerMultiplier = 2

	// MaxWorkers defines the absolute upper limit on the number of worker goroutines
	// the scheduler will create, regardless of CPU core count or multipliers.
	MaxWorkers = 2048

	// DefaultChunkSize is the number of candidates evaluated by one work item.
	// Inputs no larger than one chunk never touch the scheduler.
	DefaultChunkSize = 4096

	// DefaultQueueSize is the capacity of each worker's queue
	DefaultQueueSize = 64

	// ProgressLogInterval is the minimum time between progress log lines of a single
	// large bulk evaluation.
	ProgressLogInterval = 5 * time.Second
)

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	n := runtime.NumCPU() * WorkerMultiplier
	if n <= 0 {
		n = 1
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

// Chunk identifies a contiguous range [Start, End) of a larger job.
// Key and Index together pick the worker that runs it.
type Chunk struct {
	Key   string
	Index int
	Start int
	End   int
}

// WorkItem represents a unit of work to be processed by the scheduler.
// It is pooled via sync.Pool to reduce allocations in the hot path.
type WorkItem struct {
	Chunk
	Callback  WorkCallback
	Ctx       context.Context
	CreatedAt time.Time

	done func(error)
}

// WorkCallback is the function signature for work item callbacks
type WorkCallback func(item *WorkItem) error

func (w *WorkItem) reset() {
	w.Chunk = Chunk{}
	w.Callback = nil
	w.Ctx = nil
	w.done = nil
}
