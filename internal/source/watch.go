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

package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/x-stp/unmask/internal/index"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDelay is how long the watcher waits after the last file event before
// reloading. Editors often write a file in several steps.
const DefaultReloadDelay = time.Second

// Watcher reloads an index whenever its candidate file changes.
type Watcher struct {
	file   string
	idx    *index.Index
	delay  time.Duration
	logger *zap.Logger

	// reloaded is signalled after every reload attempt; used by tests.
	reloaded chan error
}

// NewWatcher returns a watcher for file. Only file sources can be watched.
func NewWatcher(file string, idx *index.Index, delay time.Duration, logger *zap.Logger) (*Watcher, error) {
	if Classify(file) != KindFile {
		return nil, fmt.Errorf("cannot watch %q: not a file source", file)
	}
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{file: file, idx: idx, delay: delay, logger: logger}, nil
}

// Run watches until ctx is done. The parent directory is watched, so the file may be
// replaced by rename as well as rewritten in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start fs watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.file)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Info("watching candidate file", zap.String("file", abs))

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != abs {
				continue
			}
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("fs event", zap.Stringer("event", e.Op), zap.String("file", e.Name))
			timer.Reset(w.delay)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fs notify error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	b, err := os.ReadFile(w.file)
	if err == nil {
		err = w.idx.LoadBytesSource(w.file, b)
	}
	if err != nil {
		w.logger.Error("failed to reload candidate file, keeping previous set",
			zap.String("file", w.file), zap.Error(err))
	} else {
		w.logger.Info("candidate file reloaded",
			zap.String("file", w.file),
			zap.Int("candidates", w.idx.Len()))
	}
	if w.reloaded != nil {
		select {
		case w.reloaded <- err:
		default:
		}
	}
}
