/*
Package index holds the candidate set that masked domains are matched against, together with
the active wildcard set. Both are published as one immutable snapshot, so a match always sees
a consistent pair.
*/
package index

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
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/x-stp/unmask/internal/core"
	"github.com/x-stp/unmask/internal/domainlib"
	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/metrics"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// DefaultWildcards is the wildcard set of a fresh index.
const DefaultWildcards = "*"

// Verdict is the outcome of one candidate for one pattern.
type Verdict struct {
	Domain string `json:"domain"`
	Match  bool   `json:"match"`
}

// Verdicts lists every candidate of the index with its verdict, in candidate order.
type Verdicts []Verdict

// Map returns the verdicts keyed by domain.
func (v Verdicts) Map() map[string]bool {
	m := make(map[string]bool, len(v))
	for _, e := range v {
		m[e.Domain] = e.Match
	}
	return m
}

// Matches returns the matching domains in candidate order.
func (v Verdicts) Matches() []string {
	out := make([]string, 0)
	for _, e := range v {
		if e.Match {
			out = append(out, e.Domain)
		}
	}
	return out
}

type snapshot struct {
	source      string
	domains     []string
	dropped     int
	fingerprint uint64
	wildcards   mask.WildcardSet
}

// Index is a concurrency-safe candidate set. Readers never block; loads and wildcard
// changes replace the snapshot wholesale.
type Index struct {
	validator  domainlib.Validator
	filter     atomic.Bool
	matcher    *core.BulkMatcher
	ownMatcher bool
	logger     *zap.Logger

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// Option configures an Index.
type Option func(*Index)

// WithValidator sets the predicate applied to candidates at load time. Default domainlib.Syntax.
func WithValidator(v domainlib.Validator) Option {
	return func(x *Index) { x.validator = v }
}

// WithFilter sets whether invalid candidates are dropped at load time. Default true.
func WithFilter(enabled bool) Option {
	return func(x *Index) { x.filter.Store(enabled) }
}

// WithWildcards sets the initial wildcard set from character groups.
func WithWildcards(groups ...string) Option {
	return func(x *Index) {
		s := x.snap.Load()
		s.wildcards = mask.ParseWildcards(groups...)
	}
}

// WithMatcher makes the index use m instead of a private BulkMatcher. The caller keeps
// ownership of m.
func WithMatcher(m *core.BulkMatcher) Option {
	return func(x *Index) { x.matcher = m }
}

// WithLogger sets the logger. Default zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// New returns an empty index with wildcard set {"*"} and validity filtering enabled.
func New(opts ...Option) *Index {
	x := &Index{
		validator: domainlib.Syntax,
		logger:    zap.NewNop(),
	}
	x.filter.Store(true)
	x.snap.Store(&snapshot{
		domains:     []string{},
		fingerprint: fingerprint(nil),
		wildcards:   mask.ParseWildcards(DefaultWildcards),
	})
	for _, o := range opts {
		o(x)
	}
	if x.matcher == nil {
		// Zero options are always valid.
		x.matcher, _ = core.NewBulkMatcher(core.Options{Logger: x.logger})
		x.ownMatcher = true
	}
	return x
}

// Close releases the private BulkMatcher, if any.
func (x *Index) Close() {
	if x.ownMatcher {
		x.matcher.Close()
	}
}

// FilterValid enables or disables dropping invalid candidates on subsequent loads.
func (x *Index) FilterValid(enabled bool) {
	x.filter.Store(enabled)
}

// Load replaces the candidate set with the entries read from r.
func (x *Index) Load(r io.Reader) error {
	return x.LoadSource("", r)
}

// LoadSource is Load with a source name used in errors and logs.
func (x *Index) LoadSource(source string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read candidate source: %w", err)
	}
	return x.LoadBytesSource(source, b)
}

// LoadBytes replaces the candidate set with the entries encoded in b.
func (x *Index) LoadBytes(b []byte) error {
	return x.LoadBytesSource("", b)
}

// LoadBytesSource is LoadBytes with a source name used in errors and logs.
func (x *Index) LoadBytesSource(source string, b []byte) error {
	entries, err := parse(source, b)
	if err != nil {
		metrics.GetMetrics().RecordIndex(0, 0, err)
		x.logger.Warn("candidate source rejected", zap.String("source", source), zap.Error(err))
		return err
	}
	x.install(source, known(entries))
	return nil
}

// LoadKnown replaces the candidate set with domains that may carry a validity override.
// An override wins over the validator.
func (x *Index) LoadKnown(domains []mask.KnownDomain) {
	x.install("known", domains)
}

func known(entries []string) []mask.KnownDomain {
	out := make([]mask.KnownDomain, len(entries))
	for i, e := range entries {
		out[i] = mask.KnownDomain{Name: e}
	}
	return out
}

// install normalises, deduplicates and filters entries and publishes the result with the
// current wildcard set. Surrounding dots are only stripped when filtering; unfiltered
// entries keep their length so they stay addressable by the same masked pattern.
func (x *Index) install(source string, entries []mask.KnownDomain) {
	filter := x.filter.Load()
	seen := make(map[string]struct{}, len(entries))
	domains := make([]string, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		name := domainlib.NormalizeDomain(e.Name)
		if filter {
			name = domainlib.TrimDots(name)
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		e.Name = name
		if filter && !e.IsValid(x.validator) {
			dropped++
			continue
		}
		domains = append(domains, name)
	}
	fp := fingerprint(domains)

	x.update(func(s *snapshot) {
		s.source = source
		s.domains = domains
		s.dropped = dropped
		s.fingerprint = fp
	})

	metrics.GetMetrics().RecordIndex(len(domains), dropped, nil)
	x.logger.Info("candidate set loaded",
		zap.String("source", source),
		zap.Int("candidates", len(domains)),
		zap.Int("dropped", dropped),
		zap.String("fingerprint", fmt.Sprintf("%016x", fp)))
}

func (x *Index) update(fn func(s *snapshot)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	next := *x.snap.Load()
	fn(&next)
	x.snap.Store(&next)
}

// SetWildcards replaces the wildcard set with the union of the characters of groups.
// No group at all yields the empty set, which means exact matching.
func (x *Index) SetWildcards(groups ...string) {
	ws := mask.ParseWildcards(groups...)
	x.update(func(s *snapshot) { s.wildcards = ws })
}

// SetWildcardTokens replaces the wildcard set with the union of explicit single-character
// tokens. On *mask.ConfigError the previous set stays active.
func (x *Index) SetWildcardTokens(groups ...[]string) error {
	ws, err := mask.MergeWildcards(groups...)
	if err != nil {
		return err
	}
	x.update(func(s *snapshot) { s.wildcards = ws })
	return nil
}

// Match returns the candidates matching the domain part of input, in candidate order.
func (x *Index) Match(ctx context.Context, input string) ([]string, error) {
	s, verdicts, err := x.evaluate(ctx, input)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for i, ok := range verdicts {
		if ok {
			out = append(out, s.domains[i])
		}
	}
	return out, nil
}

// MatchFull returns every candidate with its verdict for the domain part of input.
func (x *Index) MatchFull(ctx context.Context, input string) (Verdicts, error) {
	s, verdicts, err := x.evaluate(ctx, input)
	if err != nil {
		return nil, err
	}
	out := make(Verdicts, len(verdicts))
	for i, ok := range verdicts {
		out[i] = Verdict{Domain: s.domains[i], Match: ok}
	}
	return out, nil
}

// evaluate runs one pattern against exactly one snapshot. The domain part is compiled
// as given: a space or dot may be a censored position.
func (x *Index) evaluate(ctx context.Context, input string) (*snapshot, []bool, error) {
	s := x.snap.Load()
	pattern := mask.Compile(domainlib.NormalizePattern(mask.ExtractDomain(input)), s.wildcards)
	verdicts, err := x.matcher.MatchAll(ctx, pattern, s.domains)
	if err != nil {
		return nil, nil, err
	}
	return s, verdicts, nil
}

// Len returns the number of candidates.
func (x *Index) Len() int {
	return len(x.snap.Load().domains)
}

// Domains returns a copy of the candidate set in insertion order.
func (x *Index) Domains() []string {
	d := x.snap.Load().domains
	out := make([]string, len(d))
	copy(out, d)
	return out
}

// Wildcards returns the active wildcard set.
func (x *Index) Wildcards() mask.WildcardSet {
	return x.snap.Load().wildcards
}

// Source returns the name of the last loaded source.
func (x *Index) Source() string {
	return x.snap.Load().source
}

// Dropped returns the number of entries the validator rejected on the last load.
func (x *Index) Dropped() int {
	return x.snap.Load().dropped
}

// Fingerprint returns the xxh3 hash of the candidate set. Equal sets in equal order have
// equal fingerprints.
func (x *Index) Fingerprint() uint64 {
	return x.snap.Load().fingerprint
}

func fingerprint(domains []string) uint64 {
	var buf bytes.Buffer
	for _, d := range domains {
		buf.WriteString(d)
		buf.WriteByte('\n')
	}
	return xxh3.Hash(buf.Bytes())
}
