package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/unmask/internal/index"
	"github.com/x-stp/unmask/internal/store"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := map[string]Kind{
		"":                          KindDefault,
		"default":                   KindDefault,
		"DEFAULT":                   KindDefault,
		"-":                         KindStdin,
		"http://example.com/l.txt":  KindURL,
		"HTTPS://example.com/l.txt": KindURL,
		"./domains.txt":             KindFile,
		"/etc/unmask/domains.json":  KindFile,
		"httpdomains.txt":           KindFile,
	}
	for spec, want := range cases {
		assert.Equal(t, want, Classify(spec), spec)
	}
}

func TestResolverLocalSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	x := index.New()
	defer x.Close()

	r := &Resolver{Stdin: strings.NewReader("gmail.com\ngmial.com\n")}
	require.NoError(t, r.Load(ctx, x, "-"))
	assert.Equal(t, []string{"gmail.com", "gmial.com"}, x.Domains())
	assert.Equal(t, "stdin", x.Source())

	path := filepath.Join(t.TempDir(), "domains.json")
	require.NoError(t, os.WriteFile(path, []byte(`["yahoo.com"]`), 0o600))
	require.NoError(t, r.Load(ctx, x, path))
	assert.Equal(t, []string{"yahoo.com"}, x.Domains())

	require.NoError(t, r.Load(ctx, x, "default"))
	assert.Contains(t, x.Domains(), "icloud.com")

	err := r.Load(ctx, x, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, x.Domains(), "icloud.com")
}

func TestResolverRemoteWithCache(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("gmail.com\nhotmail.com\n"))
	}))
	defer srv.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer st.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Resolver{Store: st, CacheTTL: time.Hour, now: func() time.Time { return now }}
	ctx := context.Background()
	x := index.New()
	defer x.Close()

	require.NoError(t, r.Load(ctx, x, srv.URL))
	assert.Equal(t, []string{"gmail.com", "hotmail.com"}, x.Domains())
	assert.Equal(t, int32(1), calls.Load())

	// Fresh cache: no request.
	require.NoError(t, r.Load(ctx, x, srv.URL))
	assert.Equal(t, int32(1), calls.Load())

	// Stale cache and a failing host: the cached copy is used.
	now = now.Add(2 * time.Hour)
	fail.Store(true)
	require.NoError(t, r.Load(ctx, x, srv.URL))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"gmail.com", "hotmail.com"}, x.Domains())

	// No cache at all: the failure surfaces.
	bare := &Resolver{}
	require.Error(t, bare.Load(ctx, x, srv.URL))
}

func TestWatcherReloads(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("gmail.com\n"), 0o600))

	x := index.New()
	defer x.Close()
	require.NoError(t, x.LoadBytesSource(path, []byte("gmail.com\n")))

	w, err := NewWatcher(path, x, 50*time.Millisecond, nil)
	require.NoError(t, err)
	w.reloaded = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("gmail.com\nyahoo.com\n"), 0o600))
	select {
	case err := <-w.reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	assert.Equal(t, []string{"gmail.com", "yahoo.com"}, x.Domains())

	// A broken file keeps the previous set.
	require.NoError(t, os.WriteFile(path, []byte(`["gmail.com", 1]`), 0o600))
	select {
	case err := <-w.reloaded:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after second write")
	}
	assert.Equal(t, []string{"gmail.com", "yahoo.com"}, x.Domains())

	cancel()
	require.NoError(t, <-done)
}

func TestNewWatcherRejectsNonFiles(t *testing.T) {
	t.Parallel()
	x := index.New()
	defer x.Close()
	for _, spec := range []string{"default", "-", "https://example.com/list"} {
		_, err := NewWatcher(spec, x, 0, nil)
		assert.Error(t, err, spec)
	}
}
