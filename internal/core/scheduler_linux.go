//go:build linux
// +build linux

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
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const affinitySupported = true

// setAffinity attempts to bind the current goroutine's OS thread to a specific CPU core.
// Failure is logged and the worker keeps running unpinned.
func setAffinity(logger *zap.Logger, workerID, cpuID int) {
	// The worker goroutine lives as long as the scheduler, so the thread stays locked.
	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(cpuID)

	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &cpuSet); err != nil {
		logger.Warn("failed to set CPU affinity",
			zap.Int("worker", workerID),
			zap.Int("cpu", cpuID),
			zap.Int("tid", tid),
			zap.Error(err))
	}
}
