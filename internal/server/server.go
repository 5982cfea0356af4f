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

// Package server exposes a candidate index over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/x-stp/unmask/internal/index"
	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	Addr string

	// RateLimit admits this many API requests per second. Zero disables limiting.
	RateLimit float64
	// Burst defaults to RateLimit rounded up.
	Burst int

	ShutdownTimeout time.Duration // Default 5s.
	Logger          *zap.Logger
}

// Server serves match and compare queries against one index.
type Server struct {
	idx     *index.Index
	opts    Options
	logger  *zap.Logger
	limiter *rate.Limiter
	handler http.Handler
	started time.Time
}

// MatchResponse is the body of /v1/match.
type MatchResponse struct {
	Query     string         `json:"query"`
	Pattern   string         `json:"pattern"`
	Wildcards string         `json:"wildcards"`
	Matches   []string       `json:"matches"`
	Verdicts  index.Verdicts `json:"verdicts,omitempty"`
}

// CompareResponse is the body of /v1/compare.
type CompareResponse struct {
	A          string `json:"a"`
	B          string `json:"b"`
	Compatible bool   `json:"compatible"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Candidates  int    `json:"candidates"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
	Uptime      string `json:"uptime"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds a server for idx. The index may be reloaded while the server runs.
func New(idx *index.Index, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		idx:     idx,
		opts:    opts,
		logger:  logger,
		started: time.Now(),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(math.Ceil(opts.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/match", s.route("match", true, s.handleMatch))
	mux.Handle("GET /v1/compare", s.route("compare", true, s.handleCompare))
	mux.Handle("GET /healthz", s.route("healthz", false, s.handleHealth))
	s.handler = mux
	return s
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on Options.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server",
			zap.String("addr", s.opts.Addr),
			zap.Int("candidates", s.idx.Len()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route wraps h with admission control, metrics and a debug log line.
func (s *Server) route(endpoint string, limited bool, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := metrics.GetMetrics()
		enabled := metrics.IsMetricsEnabled()

		if limited && s.limiter != nil && !s.limiter.Allow() {
			if enabled {
				m.HTTPRateLimited.Inc()
				m.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(http.StatusTooManyRequests)).Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		start := time.Now()
		defer metrics.MeasureDuration(m.HTTPRequestDuration, prometheus.Labels{"endpoint": endpoint})()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		if enabled {
			m.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		}
		s.logger.Debug("api request",
			zap.String("endpoint", endpoint),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	pattern := mask.ExtractDomain(query)
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "missing or empty q")
		return
	}
	full := false
	if v := q.Get("full"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "full must be a boolean")
			return
		}
		full = b
	}
	if s.idx.Len() == 0 {
		writeError(w, http.StatusServiceUnavailable, "no candidates loaded")
		return
	}

	resp := MatchResponse{
		Query:     query,
		Pattern:   pattern,
		Wildcards: s.idx.Wildcards().String(),
	}
	if full {
		verdicts, err := s.idx.MatchFull(r.Context(), query)
		if err != nil {
			s.matchFailed(w, query, err)
			return
		}
		resp.Verdicts = verdicts
		resp.Matches = verdicts.Matches()
	} else {
		matches, err := s.idx.Match(r.Context(), query)
		if err != nil {
			s.matchFailed(w, query, err)
			return
		}
		resp.Matches = matches
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) matchFailed(w http.ResponseWriter, query string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	s.logger.Error("match failed", zap.String("query", query), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "match failed")
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := q.Get("a"), q.Get("b")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "both a and b are required")
		return
	}
	ca, cb := mask.DefaultWildcards, mask.DefaultWildcards
	if q.Has("ca") {
		ca = q.Get("ca")
	}
	if q.Has("cb") {
		cb = q.Get("cb")
	}

	left := mask.NewMasked(a, mask.ParseWildcards(ca))
	right := mask.NewMasked(b, mask.ParseWildcards(cb))
	writeJSON(w, http.StatusOK, CompareResponse{
		A:          left.Value,
		B:          right.Value,
		Compatible: mask.Compatible(left, right),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Candidates:  s.idx.Len(),
		Source:      s.idx.Source(),
		Fingerprint: strconv.FormatUint(s.idx.Fingerprint(), 16),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
