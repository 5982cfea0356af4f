//go:build !linux
// +build !linux

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

// This file provides the affinity stub for non-Linux platforms where CPU affinity
// setting is not available via x/sys/unix.

package core

import "go.uber.org/zap"

const affinitySupported = false

// setAffinity is a no-op on non-Linux platforms.
func setAffinity(logger *zap.Logger, workerID, cpuID int) {}
