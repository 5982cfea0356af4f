package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests below reconfigure the shared client and must not run in parallel.

func TestInitHTTPClientFillsDefaults(t *testing.T) {
	sharedClient = nil
	clientInitialized = false

	InitHTTPClient(&Config{})
	c := GetHTTPClient()

	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr == nil {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if tr.MaxIdleConns == 0 {
		t.Fatalf("expected MaxIdleConns defaulted, got %d", tr.MaxIdleConns)
	}
	if tr.MaxConnsPerHost == 0 {
		t.Fatalf("expected MaxConnsPerHost defaulted, got %d", tr.MaxConnsPerHost)
	}
	if c.Timeout != defaultRequestTimeout {
		t.Fatalf("expected request timeout %v, got %v", defaultRequestTimeout, c.Timeout)
	}
}

func TestConfigureTurboMode(t *testing.T) {
	sharedClient = nil
	clientInitialized = false

	ConfigureTurboMode()
	c := GetHTTPClient()

	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr == nil {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if tr.MaxConnsPerHost != TurboConfig().MaxConnsPerHost {
		t.Fatalf("expected turbo MaxConnsPerHost, got %d", tr.MaxConnsPerHost)
	}
}

func TestFetchList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("gmail.com\nyahoo.com\n"))
	}))
	defer srv.Close()

	InitHTTPClient(nil)
	body, err := FetchList(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "gmail.com\nyahoo.com\n", string(body))
}

func TestFetchListRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`["gmail.com"]`))
	}))
	defer srv.Close()

	InitHTTPClient(&Config{Retries: 3})
	defaultRetryBaseDelay = time.Millisecond
	defer func() { defaultRetryBaseDelay = 250 * time.Millisecond }()

	body, err := FetchList(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `["gmail.com"]`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchListDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	InitHTTPClient(&Config{Retries: 3})
	_, err := FetchList(context.Background(), srv.URL)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}
