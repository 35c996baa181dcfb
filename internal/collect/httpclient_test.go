package collect

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient() *HTTPClient {
	return NewHTTPClient(HTTPOptions{
		Timeout:   5 * time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	})
}

func TestHTTPClientRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	data, err := fastClient().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestHTTPClientGivesUpAfterMaxAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastClient().Get(context.Background(), srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastClient().Get(context.Background(), srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient())
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestHTTPClientSendsHeadersAndForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "x", r.Header.Get("X-Probe"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		w.Write([]byte(r.PostForm.Get("q")))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPOptions{UserAgent: "test-agent"})
	data, err := c.PostForm(context.Background(), srv.URL, url.Values{"q": {"consulting"}}, http.Header{"X-Probe": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, "consulting", string(data))
}

func TestHTTPClientHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastClient().Get(ctx, srv.URL, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBackoffIsCapped(t *testing.T) {
	c := NewHTTPClient(HTTPOptions{})
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 4*time.Second, c.backoff(3))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, 8*time.Second, c.backoff(5))
}

func TestIsTransientClassifiesURLErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"unsupported scheme": {&url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false},
		"malformed url":      {&url.Error{Op: "parse", URL: "http://[::1", Err: errors.New("missing ']' in host")}, false},
		"timeout":            {&url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, true},
		"connection refused": {&url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}, true},
		"server hung up":     {&url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, true},
		"cancelled":          {&url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, false},
		"server error":       {&StatusError{Code: http.StatusBadGateway}, true},
		"not found":          {&StatusError{Code: http.StatusNotFound}, false},
	}
	for name, c := range cases {
		assert.Equal(t, c.want, isTransient(c.err), name)
	}
}

func TestHTTPClientDoesNotRetryUnsupportedScheme(t *testing.T) {
	start := time.Now()
	_, err := NewHTTPClient(HTTPOptions{Timeout: time.Second, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}).
		Get(context.Background(), "ftp://example.invalid/listing", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
