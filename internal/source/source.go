/*
Package source turns a candidate source spec into bytes for the index: the bundled default
list, standard input, a local file or an HTTP(S) URL. Remote lists go through the shared
client and are cached in the bbolt store when one is configured.
*/
package source

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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/x-stp/unmask/internal/client"
	"github.com/x-stp/unmask/internal/index"
	"github.com/x-stp/unmask/internal/metrics"
	"github.com/x-stp/unmask/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Kind classifies a source spec.
type Kind string

const (
	KindDefault Kind = "default"
	KindStdin   Kind = "stdin"
	KindFile    Kind = "file"
	KindURL     Kind = "url"
)

// Classify returns the kind of spec. "" and "default" select the bundled list, "-" is
// standard input, http:// and https:// are remote, and anything else is a file path.
func Classify(spec string) Kind {
	switch {
	case spec == "" || strings.EqualFold(spec, "default"):
		return KindDefault
	case spec == "-":
		return KindStdin
	case hasScheme(spec, "http://"), hasScheme(spec, "https://"):
		return KindURL
	default:
		return KindFile
	}
}

func hasScheme(s, scheme string) bool {
	return len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme)
}

// Resolver loads source specs into an index.
type Resolver struct {
	// Store caches remote lists. Nil disables caching.
	Store *store.Store
	// CacheTTL is how long a cached list is used without contacting the host.
	// Zero always fetches; the cache then only serves as an offline fallback.
	CacheTTL time.Duration
	// Stdin is read for the "-" spec. Default os.Stdin.
	Stdin io.Reader
	// Logger. Default zap.NewNop().
	Logger *zap.Logger

	now func() time.Time
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resolver) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Load resolves spec and installs its candidates into x.
func (r *Resolver) Load(ctx context.Context, x *index.Index, spec string) error {
	kind := Classify(spec)
	m := metrics.GetMetrics()
	defer metrics.MeasureDuration(m.FetchDuration, prometheus.Labels{"kind": string(kind)})()

	err := r.load(ctx, x, kind, spec)
	if metrics.IsMetricsEnabled() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.FetchTotal.WithLabelValues(string(kind), status).Inc()
	}
	return err
}

func (r *Resolver) load(ctx context.Context, x *index.Index, kind Kind, spec string) error {
	switch kind {
	case KindDefault:
		return x.LoadDefault()
	case KindStdin:
		in := r.Stdin
		if in == nil {
			in = os.Stdin
		}
		return x.LoadSource("stdin", in)
	case KindURL:
		b, err := r.Fetch(ctx, spec)
		if err != nil {
			return err
		}
		return x.LoadBytesSource(spec, b)
	default:
		b, err := os.ReadFile(spec)
		if err != nil {
			return fmt.Errorf("read candidate file: %w", err)
		}
		return x.LoadBytesSource(spec, b)
	}
}

// Fetch returns the body of a remote list. A cached copy younger than CacheTTL is used
// directly; otherwise the list is downloaded and cached, and a stale cached copy is the
// fallback when the download fails.
func (r *Resolver) Fetch(ctx context.Context, url string) ([]byte, error) {
	log := r.logger()

	var cached []byte
	if r.Store != nil {
		body, meta, err := r.Store.Load(url)
		switch {
		case err == nil:
			if r.CacheTTL > 0 && meta.Age(r.clock()) < r.CacheTTL {
				log.Debug("using cached list", zap.String("url", url), zap.Time("fetched_at", meta.FetchedAt))
				return body, nil
			}
			cached = body
		case !errors.Is(err, store.ErrNotFound):
			log.Warn("list cache unreadable", zap.String("url", url), zap.Error(err))
		}
	}

	body, err := client.FetchList(ctx, url)
	if err != nil {
		if cached != nil && ctx.Err() == nil {
			log.Warn("fetch failed, using cached list", zap.String("url", url), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	if r.Store != nil {
		if _, err := r.Store.Save(url, body, r.clock()); err != nil {
			log.Warn("failed to cache list", zap.String("url", url), zap.Error(err))
		}
	}
	log.Info("list fetched", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}
