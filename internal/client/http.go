package client

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

/*
Package client provides the shared HTTP client unmask uses to download remote candidate lists.
One client is configured at startup and reused everywhere, so TCP connections are pooled and
every fetch follows the same timeouts. A "turbo" preset trades memory for more connections.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// MaxListSize bounds the body of a fetched list. Larger bodies are rejected.
	MaxListSize = 64 << 20
	// UserAgent is sent with every fetch.
	UserAgent = "unmask/1 (+https://github.com/x-stp/unmask)"
)

var (
	defaultDialTimeout      = 5 * time.Second
	defaultKeepAliveTimeout = 60 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultMaxIdleConns     = 16
	defaultMaxConnsPerHost  = 8
	defaultRequestTimeout   = 30 * time.Second
	defaultRetries          = 2
	defaultRetryBaseDelay   = 250 * time.Millisecond

	// sharedClient is the global HTTP client instance used by the application.
	sharedClient      *http.Client
	sharedRetries     int
	sharedClientLock  sync.RWMutex
	clientInitialized bool
)

// Config holds the transport settings of the shared client.
// A zero-value Config results in default settings being used.
type Config struct {
	DialTimeout      time.Duration
	KeepAliveTimeout time.Duration
	IdleConnTimeout  time.Duration
	MaxIdleConns     int
	MaxConnsPerHost  int
	// RequestTimeout bounds a whole request including reading the body.
	RequestTimeout time.Duration
	// Retries is the number of extra attempts after a transient failure. Negative disables retries.
	Retries int
}

// DefaultConfig returns a new Config populated with the default settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:      defaultDialTimeout,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		IdleConnTimeout:  defaultIdleConnTimeout,
		MaxIdleConns:     defaultMaxIdleConns,
		MaxConnsPerHost:  defaultMaxConnsPerHost,
		RequestTimeout:   defaultRequestTimeout,
		Retries:          defaultRetries,
	}
}

// TurboConfig is the preset for hosts that serve many large lists: more connections and
// longer lived idle ones.
func TurboConfig() *Config {
	return &Config{
		DialTimeout:      2 * time.Second,
		KeepAliveTimeout: 120 * time.Second,
		IdleConnTimeout:  120 * time.Second,
		MaxIdleConns:     128,
		MaxConnsPerHost:  64,
		RequestTimeout:   60 * time.Second,
		Retries:          4,
	}
}

// InitHTTPClient initializes or reconfigures the shared client. Zero fields of config
// fall back to the defaults; a nil config means DefaultConfig().
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	c := DefaultConfig()
	if config != nil {
		if config.DialTimeout > 0 {
			c.DialTimeout = config.DialTimeout
		}
		if config.KeepAliveTimeout > 0 {
			c.KeepAliveTimeout = config.KeepAliveTimeout
		}
		if config.IdleConnTimeout > 0 {
			c.IdleConnTimeout = config.IdleConnTimeout
		}
		if config.MaxIdleConns > 0 {
			c.MaxIdleConns = config.MaxIdleConns
		}
		if config.MaxConnsPerHost > 0 {
			c.MaxConnsPerHost = config.MaxConnsPerHost
		}
		if config.RequestTimeout > 0 {
			c.RequestTimeout = config.RequestTimeout
		}
		if config.Retries != 0 {
			c.Retries = config.Retries
		}
	}

	// Don't leak idle keep-alive connections of the previous transport.
	if sharedClient != nil {
		if old, ok := sharedClient.Transport.(*http.Transport); ok && old != nil {
			old.CloseIdleConnections()
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.DialTimeout,
			KeepAlive: c.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxConnsPerHost,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	sharedClient = &http.Client{
		Transport: transport,
		Timeout:   c.RequestTimeout,
	}
	sharedRetries = c.Retries
	if sharedRetries < 0 {
		sharedRetries = 0
	}
	clientInitialized = true
}

// GetHTTPClient returns the shared client, initializing it with defaults on first use.
func GetHTTPClient() *http.Client {
	c, _ := shared()
	return c
}

func shared() (*http.Client, int) {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	c, r := sharedClient, sharedRetries
	sharedClientLock.RUnlock()
	return c, r
}

// ConfigureTurboMode installs TurboConfig as the shared client configuration.
func ConfigureTurboMode() {
	InitHTTPClient(TurboConfig())
}

// StatusError is returned for a response with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrTooLarge is returned when a list exceeds MaxListSize.
var ErrTooLarge = errors.New("list exceeds maximum size")

// FetchList downloads the body at url with the shared client. Transient failures (network
// errors, 429 and 5xx) are retried with exponential backoff.
func FetchList(ctx context.Context, url string) ([]byte, error) {
	c, retries := shared()

	delay := defaultRetryBaseDelay
	for attempt := 0; ; attempt++ {
		body, err := fetchOnce(ctx, c, url)
		if err == nil {
			return body, nil
		}
		if attempt >= retries || !transient(err) || ctx.Err() != nil {
			return nil, err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, ErrTooLarge) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func fetchOnce(ctx context.Context, c *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxListSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > MaxListSize {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrTooLarge)
	}
	return body, nil
}
