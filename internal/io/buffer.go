package io

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

/*
Package io provides the buffered output writer used by batch mode. Writes land in memory and
a background goroutine flushes them on an interval. File output is written to a temporary
file that is renamed into place on Close, so readers never observe a half-written result.
*/

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 256 * 1024 // 256KB

	// FlushInterval is how often to flush buffers automatically
	FlushInterval = 2 * time.Second

	tmpSuffix = ".tmp"
)

// ErrBufferClosed is returned when attempting to write to a closed buffer
var ErrBufferClosed = errors.New("write buffer closed")

// BufferStats is a snapshot of the counters of a buffer.
type BufferStats struct {
	BytesWritten int64
	WriteCount   int64
	FlushCount   int64
	ErrorCount   int64
}

// AsyncBufferOptions configures an AsyncBuffer
type AsyncBufferOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	Compressed    bool   // gzip the output
	Identifier    string // used in logs
	Logger        *zap.Logger
}

// DefaultAsyncBufferOptions returns the default options for AsyncBuffer
func DefaultAsyncBufferOptions() *AsyncBufferOptions {
	return &AsyncBufferOptions{
		BufferSize:    DefaultBufferSize,
		FlushInterval: FlushInterval,
	}
}

// AsyncBuffer is a buffered writer with periodic background flushing.
// Writes from several goroutines are serialized; the bytes of one Write call are never
// interleaved with another.
type AsyncBuffer struct {
	mu        sync.Mutex
	closed    bool
	bufWriter *bufio.Writer
	gzWriter  *gzip.Writer
	out       io.Writer

	file      *os.File // nil for NewAsyncWriter
	tmpPath   string
	finalPath string

	identifier string
	logger     *zap.Logger
	cancel     context.CancelFunc
	flusherWg  sync.WaitGroup

	bytesWritten atomic.Int64
	writeCount   atomic.Int64
	flushCount   atomic.Int64
	errorCount   atomic.Int64
}

func normalize(options *AsyncBufferOptions) AsyncBufferOptions {
	o := *DefaultAsyncBufferOptions()
	if options != nil {
		o.Compressed = options.Compressed
		o.Identifier = options.Identifier
		o.Logger = options.Logger
		if options.BufferSize > 0 {
			o.BufferSize = options.BufferSize
		}
		if options.FlushInterval > 0 {
			o.FlushInterval = options.FlushInterval
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// NewAsyncBuffer creates a buffer writing to path. Data goes to path+".tmp" until Close
// renames it; Abort removes it instead.
func NewAsyncBuffer(ctx context.Context, path string, options *AsyncBufferOptions) (*AsyncBuffer, error) {
	o := normalize(options)
	if o.Identifier == "" {
		o.Identifier = path
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := path + tmpSuffix
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", tmp, err)
	}

	ab := newAsyncBuffer(ctx, file, o)
	ab.file = file
	ab.tmpPath = tmp
	ab.finalPath = path
	return ab, nil
}

// NewAsyncWriter creates a buffer in front of w, for example os.Stdout. Close flushes but
// does not close w.
func NewAsyncWriter(ctx context.Context, w io.Writer, options *AsyncBufferOptions) *AsyncBuffer {
	o := normalize(options)
	if o.Identifier == "" {
		o.Identifier = "writer"
	}
	return newAsyncBuffer(ctx, w, o)
}

func newAsyncBuffer(ctx context.Context, w io.Writer, o AsyncBufferOptions) *AsyncBuffer {
	bufCtx, cancel := context.WithCancel(ctx)
	ab := &AsyncBuffer{
		out:        w,
		identifier: o.Identifier,
		logger:     o.Logger,
		cancel:     cancel,
	}
	if o.Compressed {
		// BestSpeed is a valid level, so the error is always nil.
		ab.gzWriter, _ = gzip.NewWriterLevel(w, gzip.BestSpeed)
		ab.bufWriter = bufio.NewWriterSize(ab.gzWriter, o.BufferSize)
	} else {
		ab.bufWriter = bufio.NewWriterSize(w, o.BufferSize)
	}

	ab.flusherWg.Add(1)
	go ab.backgroundFlusher(bufCtx, o.FlushInterval)
	return ab
}

// backgroundFlusher periodically flushes the buffer until the context ends.
func (ab *AsyncBuffer) backgroundFlusher(ctx context.Context, interval time.Duration) {
	defer ab.flusherWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ab.Flush(); err != nil && !errors.Is(err, ErrBufferClosed) {
				ab.logger.Warn("background flush failed", zap.String("buffer", ab.identifier), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Write appends data to the buffer.
func (ab *AsyncBuffer) Write(data []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return 0, ErrBufferClosed
	}
	n, err := ab.bufWriter.Write(data)
	ab.bytesWritten.Add(int64(n))
	if err != nil {
		ab.errorCount.Add(1)
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}
	ab.writeCount.Add(1)
	return n, nil
}

// WriteLine appends s and a newline as one write.
func (ab *AsyncBuffer) WriteLine(s string) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return ErrBufferClosed
	}
	n, err := ab.bufWriter.WriteString(s)
	if err == nil {
		err = ab.bufWriter.WriteByte('\n')
		if err == nil {
			n++
		}
	}
	ab.bytesWritten.Add(int64(n))
	if err != nil {
		ab.errorCount.Add(1)
		return fmt.Errorf("failed to write to buffer: %w", err)
	}
	ab.writeCount.Add(1)
	return nil
}

// Flush pushes buffered data through the gzip stream (if any) to the destination.
func (ab *AsyncBuffer) Flush() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return ErrBufferClosed
	}
	return ab.flushLocked()
}

func (ab *AsyncBuffer) flushLocked() error {
	if err := ab.bufWriter.Flush(); err != nil {
		ab.errorCount.Add(1)
		return fmt.Errorf("flush %s: %w", ab.identifier, err)
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Flush(); err != nil {
			ab.errorCount.Add(1)
			return fmt.Errorf("flush gzip %s: %w", ab.identifier, err)
		}
	}
	ab.flushCount.Add(1)
	return nil
}

// Close flushes everything, closes the file and renames it into place.
func (ab *AsyncBuffer) Close() error {
	return ab.finish(true)
}

// Abort stops the buffer and discards the temporary file. The final path is untouched.
func (ab *AsyncBuffer) Abort() error {
	return ab.finish(false)
}

func (ab *AsyncBuffer) finish(commit bool) error {
	ab.mu.Lock()
	if ab.closed {
		ab.mu.Unlock()
		return nil
	}
	ab.closed = true
	ab.mu.Unlock()

	// Stop the background flusher before touching the writers without the lock.
	ab.cancel()
	ab.flusherWg.Wait()

	var errs []error
	if commit {
		if err := ab.flushLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Close(); err != nil && commit {
			errs = append(errs, fmt.Errorf("failed to close gzip writer: %w", err))
		}
	}
	if ab.file == nil {
		return errors.Join(errs...)
	}

	if commit {
		if err := ab.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", ab.tmpPath, err))
		}
	}
	if err := ab.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close file: %w", err))
	}

	if commit && len(errs) == 0 {
		if err := os.Rename(ab.tmpPath, ab.finalPath); err != nil {
			return fmt.Errorf("rename %s: %w", ab.tmpPath, err)
		}
		ab.logger.Debug("output committed",
			zap.String("file", ab.finalPath),
			zap.Int64("bytes", ab.bytesWritten.Load()))
		return nil
	}
	if err := os.Remove(ab.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats returns the current counters.
func (ab *AsyncBuffer) Stats() BufferStats {
	return BufferStats{
		BytesWritten: ab.bytesWritten.Load(),
		WriteCount:   ab.writeCount.Load(),
		FlushCount:   ab.flushCount.Load(),
		ErrorCount:   ab.errorCount.Load(),
	}
}
