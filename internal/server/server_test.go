package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/unmask/internal/index"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	x := index.New()
	t.Cleanup(x.Close)
	require.NoError(t, x.LoadBytes([]byte(`["gmail.com","yahoo.com","icloud.com","gmial.com"]`)))
	return New(x, opts)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestMatch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	w := get(t, s.Handler(), "/v1/match?q=john%40g****.**m")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "john@g****.**m", resp.Query)
	assert.Equal(t, "g****.**m", resp.Pattern)
	assert.Equal(t, "*", resp.Wildcards)
	assert.Equal(t, []string{"gmail.com", "gmial.com"}, resp.Matches)
	assert.Nil(t, resp.Verdicts)
}

func TestMatchFull(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	w := get(t, s.Handler(), "/v1/match?q=g****.**m&full=true")
	require.Equal(t, http.StatusOK, w.Code)

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, index.Verdicts{
		{Domain: "gmail.com", Match: true},
		{Domain: "yahoo.com", Match: false},
		{Domain: "icloud.com", Match: false},
		{Domain: "gmial.com", Match: true},
	}, resp.Verdicts)
	assert.Equal(t, []string{"gmail.com", "gmial.com"}, resp.Matches)
}

func TestMatchNoResultsIsEmptyArray(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	w := get(t, s.Handler(), "/v1/match?q=x.io")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matches":[]`)
}

func TestMatchBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	tests := []struct {
		target string
		status int
	}{
		{"/v1/match", http.StatusBadRequest},
		{"/v1/match?q=", http.StatusBadRequest},
		{"/v1/match?q=john%40", http.StatusBadRequest},
		{"/v1/match?q=g****.com&full=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := get(t, s.Handler(), tt.target)
		assert.Equal(t, tt.status, w.Code, tt.target)
		assert.Contains(t, w.Body.String(), `"error"`, tt.target)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/match?q=a.com", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMatchEmptyIndex(t *testing.T) {
	t.Parallel()
	x := index.New()
	defer x.Close()
	s := New(x, Options{})

	w := get(t, s.Handler(), "/v1/match?q=g****.com")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMatchSeesReload(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	require.NoError(t, s.idx.LoadBytes([]byte("gmx.com\nmail.ru")))

	w := get(t, s.Handler(), "/v1/match?q=g*x.com")
	require.Equal(t, http.StatusOK, w.Code)
	var resp MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"gmx.com"}, resp.Matches)
}

func TestCompare(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	tests := []struct {
		target     string
		compatible bool
	}{
		{"/v1/compare?a=g****.com&b=gm%23%23l.com&cb=%23", true},
		{"/v1/compare?a=g****.com&b=y%23%23%23o.com&cb=%23", false},
		{"/v1/compare?a=gmail.com&b=GMAIL.COM", true},
		{"/v1/compare?a=g**l.com&b=gmail.com", false},
		// With an explicit empty set the stars on a are literal.
		{"/v1/compare?a=g****.com&ca=&b=gmail.com", false},
	}
	for _, tt := range tests {
		w := get(t, s.Handler(), tt.target)
		require.Equal(t, http.StatusOK, w.Code, tt.target)
		var resp CompareResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.compatible, resp.Compatible, tt.target)
	}

	w := get(t, s.Handler(), "/v1/compare?a=gmail.com")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})

	w := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Candidates)
	assert.NotEmpty(t, resp.Fingerprint)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{RateLimit: 0.001, Burst: 1})

	w := get(t, s.Handler(), "/v1/match?q=g****.com")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, s.Handler(), "/v1/match?q=g****.com")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health checks are never limited.
	w = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := newTestServer(t, Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
