package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswire/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
		HostRPS:   1000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	})
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Wed, 01 Jul 2026 10:00:00 GMT")
		w.Write([]byte("<rss/>")) //nolint:errcheck
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Get(context.Background(), srv.URL+"/feed", Validators{})
	require.NoError(t, err)
	assert.False(t, resp.NotModified)
	assert.Equal(t, "<rss/>", string(resp.Body))
	assert.Equal(t, `"v1"`, resp.Validators.ETag)
	assert.Equal(t, "Wed, 01 Jul 2026 10:00:00 GMT", resp.Validators.LastModified)
	assert.Equal(t, srv.URL+"/feed", resp.URL)
}

func TestGetNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("body")) //nolint:errcheck
	}))
	defer srv.Close()

	f := newTestFetcher()
	first, err := f.Get(context.Background(), srv.URL, Validators{})
	require.NoError(t, err)

	second, err := f.Get(context.Background(), srv.URL, first.Validators)
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Nil(t, second.Body)
	assert.Equal(t, first.Validators, second.Validators)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Get(context.Background(), srv.URL, Validators{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetRateLimitedSlowsHost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Get(context.Background(), srv.URL, Validators{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())

	for host, lim := range f.limiters {
		assert.Less(t, float64(lim.Limit()), 1000.0, host)
	}
}

func TestGetClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL, Validators{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 4, HostRPS: 1000})
	_, err := f.Get(context.Background(), srv.URL, Validators{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.False(t, resilience.IsTransient(err))

	f = NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 10, HostRPS: 1000})
	resp, err := f.Get(context.Background(), srv.URL, Validators{})
	require.NoError(t, err, "body exactly at the limit")
	assert.Equal(t, "0123456789", string(resp.Body))
}

func TestGetInvalidURL(t *testing.T) {
	_, err := newTestFetcher().Get(context.Background(), "not a url", Validators{})
	assert.Error(t, err)
}

func TestGetContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late")) //nolint:errcheck
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher().Get(ctx, srv.URL, Validators{})
	assert.Error(t, err)
}

func TestAdaptiveLimiter(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 1)
	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.001)
	lim.OnRateLimit()
	lim.OnRateLimit()
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.001, "floored at a quarter of the initial rate")

	for i := 0; i < 20; i++ {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.001, "capped at twice the initial rate")
	require.NoError(t, lim.Wait(context.Background()))
}

func TestValidatorsIsZero(t *testing.T) {
	assert.True(t, Validators{}.IsZero())
	assert.False(t, Validators{ETag: `"x"`}.IsZero())
}

