/*
Package main is the entry point for the unmask command-line application.

unmask recovers the domain behind a censored email address such as "j***@g****.com" by
comparing the masked domain, position by position, with a list of known domains.
Its functionalities include:
  - Matching one masked domain or address against the candidate list (the root command).
  - Serving the same queries over HTTP with hot reload of a file-backed list (serve).
  - Matching a file of masked inputs in one pass (batch).
  - Comparing two differently censored strings with each other (compare).
  - Fetching and caching remote candidate lists (fetch-list, list).

Candidates come from the bundled list of email providers unless --domains names a file,
"-" for standard input, or an http(s) URL. Settings are read from an optional YAML
configuration file and UNMASK_* environment variables; flags win over both.
*/
package main

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
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/x-stp/unmask/internal/client"
	"github.com/x-stp/unmask/internal/config"
	"github.com/x-stp/unmask/internal/core"
	"github.com/x-stp/unmask/internal/index"
	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/metrics"
	"github.com/x-stp/unmask/internal/mlog"
	"github.com/x-stp/unmask/internal/source"
	"github.com/x-stp/unmask/internal/store"
)

// errNoMatch makes the process exit 1 without printing an error; the command already
// told the user what happened.
var errNoMatch = errors.New("no match")

// app holds the flags and the resources shared by all commands.
type app struct {
	stdin       io.Reader
	out, errOut io.Writer

	// Persistent flags
	configFile string
	domains    string
	noFilter   bool
	workers    int
	chunkSize  int
	logLevel   string
	censored   string
	colorMode  string

	// Root command flags
	full bool

	cfg    *config.Config
	logger *zap.Logger
	styles *styles
}

// styles holds the formatters of the result markers.
type styles struct {
	found    *color.Color
	notFound *color.Color
	item     *color.Color
}

// newStyles creates the formatters; enabled=false strips all escape sequences.
func newStyles(enabled bool) *styles {
	s := &styles{
		found:    color.New(color.Bold, color.FgHiGreen),
		notFound: color.New(color.Bold, color.FgRed),
		item:     color.New(color.FgHiWhite),
	}
	for _, c := range []*color.Color{s.found, s.notFound, s.item} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// colorEnabled resolves --color. In auto mode only a terminal without NO_COLOR gets colors.
func (a *app) colorEnabled() bool {
	switch a.colorMode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := a.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func newApp(stdin io.Reader, out, errOut io.Writer) *app {
	return &app{stdin: stdin, out: out, errOut: errOut}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "unmask <domain-or-email>",
		Short: "unmask - recover censored email domains from a list of known domains",
		Long: `unmask compares a censored domain or email address with a list of known domains and
prints every domain that fits. Censored positions are written with any of the --censored
characters, e.g. "j***@g****.com" or "g????.com".`,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runMatch,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Configuration file (default ./unmask.yaml if present)")
	pf.StringVar(&a.domains, "domains", "default", "Candidate source: default, - for stdin, a file path or an http(s) URL")
	pf.BoolVar(&a.noFilter, "no-filter", false, "Keep candidates that do not look like domain names")
	pf.IntVar(&a.workers, "workers", 0, "Matcher worker goroutines (0 for auto based on CPU)")
	pf.IntVar(&a.chunkSize, "chunk-size", core.DefaultChunkSize, "Candidates per matcher work item")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVarP(&a.censored, "censored", "c", mask.DefaultWildcards, "Characters used to censor the input")
	pf.StringVar(&a.colorMode, "color", "auto", "Colorize output: auto, always, never")

	root.Flags().BoolVar(&a.full, "full", false, "Print every candidate with its verdict")

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.batchCmd())
	root.AddCommand(a.compareCmd())
	root.AddCommand(a.fetchListCmd())
	root.AddCommand(a.listCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := a.rootCmd().ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		if !errors.Is(err, errNoMatch) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and initializes logging,
// metrics and the HTTP client.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("domains") {
		cfg.Index.Source = a.domains
	}
	if flags.Changed("no-filter") {
		cfg.Index.FilterValid = !a.noFilter
	}
	if flags.Changed("workers") {
		cfg.Matcher.Workers = a.workers
	}
	if flags.Changed("chunk-size") {
		cfg.Matcher.ChunkSize = a.chunkSize
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("censored") {
		cfg.Index.Wildcards = []string{a.censored}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch a.colorMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("invalid --color %q: want auto, always or never", a.colorMode)
	}
	a.styles = newStyles(a.colorEnabled())

	if err := mlog.Init(cfg.Log); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = mlog.L()

	if cfg.Metrics.Enabled {
		metrics.EnableMetrics()
	}
	if cfg.Client.Turbo {
		client.ConfigureTurboMode()
	} else {
		client.InitHTTPClient(&client.Config{
			RequestTimeout: cfg.Client.RequestTimeout,
			Retries:        cfg.Client.Retries,
		})
	}
	return nil
}

// openStore opens the list cache, creating its directory. It returns nil when caching is
// disabled.
func (a *app) openStore() (*store.Store, error) {
	path := a.cfg.Cache.Path
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return store.Open(path)
}

// resolver returns a Resolver and a function releasing its cache. The cache is only
// opened for remote sources; a cache that cannot be opened is logged and skipped.
func (a *app) resolver(spec string) (*source.Resolver, func()) {
	r := &source.Resolver{
		CacheTTL: a.cfg.Cache.TTL,
		Stdin:    a.stdin,
		Logger:   a.logger,
	}
	if source.Classify(spec) != source.KindURL {
		return r, func() {}
	}
	st, err := a.openStore()
	if err != nil {
		a.logger.Warn("list cache unavailable", zap.Error(err))
		return r, func() {}
	}
	if st == nil {
		return r, func() {}
	}
	r.Store = st
	return r, func() { _ = st.Close() }
}

// buildIndex creates the matcher and the index and loads the configured source.
// The returned function releases both.
func (a *app) buildIndex(ctx context.Context, operation string) (*index.Index, func(), error) {
	cfg := a.cfg
	matcher, err := core.NewBulkMatcher(core.Options{
		Workers:   cfg.Matcher.Workers,
		ChunkSize: cfg.Matcher.ChunkSize,
		QueueSize: cfg.Matcher.QueueSize,
		Affinity:  cfg.Matcher.Affinity,
		Operation: operation,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	idx := index.New(
		index.WithMatcher(matcher),
		index.WithValidator(cfg.ValidatorFunc()),
		index.WithFilter(cfg.Index.FilterValid),
		index.WithWildcards(cfg.Index.Wildcards...),
		index.WithLogger(a.logger),
	)
	release := func() {
		idx.Close()
		matcher.Close()
	}

	r, closeStore := a.resolver(cfg.Index.Source)
	defer closeStore()
	if err := r.Load(ctx, idx, cfg.Index.Source); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to load candidates from %q: %w", cfg.Index.Source, err)
	}
	if idx.Len() == 0 {
		release()
		return nil, nil, fmt.Errorf("no candidate domains configured (source %q)", cfg.Index.Source)
	}
	return idx, release, nil
}

func (a *app) runMatch(cmd *cobra.Command, args []string) error {
	input := trimInput(args[0], mask.ParseWildcards(a.cfg.Index.Wildcards...))
	if strings.TrimSpace(mask.ExtractDomain(input)) == "" {
		return fmt.Errorf("malformed input %q: no domain part", args[0])
	}

	idx, release, err := a.buildIndex(cmd.Context(), "cli")
	if err != nil {
		return err
	}
	defer release()

	if a.full {
		verdicts, err := idx.MatchFull(cmd.Context(), input)
		if err != nil {
			return err
		}
		for _, v := range verdicts {
			fmt.Fprintf(a.out, "%s\t%t\n", v.Domain, v.Match)
		}
		if len(verdicts.Matches()) == 0 {
			return errNoMatch
		}
		return nil
	}

	matches, err := idx.Match(cmd.Context(), input)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		a.styles.notFound.Fprint(a.out, "[x]")
		fmt.Fprintf(a.out, " No domains matching %s were found\n", input)
		return errNoMatch
	}
	a.styles.found.Fprint(a.out, "[+]")
	fmt.Fprintf(a.out, " Domains matching for %s:\n", input)
	for _, d := range matches {
		fmt.Fprint(a.out, "[-] ")
		a.styles.item.Fprintln(a.out, d)
	}
	return nil
}

// trimInput strips surrounding white space from a typed or batch input. White space that
// is itself a wildcard stays, since it marks censored positions.
func trimInput(s string, ws mask.WildcardSet) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) && !ws.Contains(r)
	})
}
