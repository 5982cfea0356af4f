/*
Package mlog builds the zap loggers used across unmask and holds the process-wide logger.
*/
package mlog

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
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects level, destination and encoding of a logger.
type LogConfig struct {
	// Level, see zapcore.ParseLevel. Empty means info.
	Level string `yaml:"level"`

	// File that the logger writes into. Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)
	lvl    = zap.NewAtomicLevelAt(zap.InfoLevel)
	global atomic.Pointer[zap.Logger]

	nop = zap.NewNop()
)

func init() {
	global.Store(zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig(false)), stderr, lvl)))
}

func encoderConfig(production bool) zapcore.EncoderConfig {
	if production {
		return zap.NewProductionEncoderConfig()
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	return ec
}

// NewLogger builds a logger from lc. The level of the returned logger is
// shared with the global one, so SetLevel affects both.
func NewLogger(lc LogConfig) (*zap.Logger, error) {
	if lc.Level != "" {
		l, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		lvl.SetLevel(l)
	}

	var out zapcore.WriteSyncer
	if lf := lc.File; len(lf) > 0 {
		f, _, err := zap.Open(lf)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	} else {
		out = stderr
	}

	var enc zapcore.Encoder
	if lc.Production {
		enc = zapcore.NewJSONEncoder(encoderConfig(true))
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig(false))
	}
	return zap.New(zapcore.NewCore(enc, out, lvl)), nil
}

// Init builds a logger from lc and installs it as the global logger.
func Init(lc LogConfig) error {
	l, err := NewLogger(lc)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// L is the global logger.
func L() *zap.Logger {
	return global.Load()
}

// S is the sugared global logger.
func S() *zap.SugaredLogger {
	return global.Load().Sugar()
}

// SetLevel sets the log level of the global logger.
func SetLevel(l zapcore.Level) {
	lvl.SetLevel(l)
}

// Nop is a logger that never writes out logs.
func Nop() *zap.Logger {
	return nop
}
