package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server, attempts int) *Client {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewWithHTTPClient(server.Client(), Config{
		MaxAttempts: attempts,
		BackoffBase: time.Millisecond,
		UserAgent:   "test-agent",
	}, log)
}

func TestGetRetries(t *testing.T) {
	testCases := []struct {
		name         string
		statuses     []int
		attempts     int
		expectStatus int
		expectHits   int32
	}{
		{
			name:       "Success on first attempt",
			statuses:   []int{http.StatusOK},
			attempts:   3,
			expectHits: 1,
		},
		{
			name:       "Recover after 503 and 502",
			statuses:   []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK},
			attempts:   3,
			expectHits: 3,
		},
		{
			name:       "Recover after 429",
			statuses:   []int{http.StatusTooManyRequests, http.StatusOK},
			attempts:   3,
			expectHits: 2,
		},
		{
			name:         "Exhausted on 500",
			statuses:     []int{500, 500, 500, 500},
			attempts:     3,
			expectStatus: http.StatusInternalServerError,
			expectHits:   3,
		},
		{
			name:         "504 with single attempt",
			statuses:     []int{http.StatusGatewayTimeout, http.StatusOK},
			attempts:     1,
			expectStatus: http.StatusGatewayTimeout,
			expectHits:   1,
		},
		{
			name:         "404 is not retried",
			statuses:     []int{http.StatusNotFound, http.StatusOK},
			attempts:     3,
			expectStatus: http.StatusNotFound,
			expectHits:   1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := hits.Add(1)
				if r.Header.Get("User-Agent") != "test-agent" {
					w.WriteHeader(http.StatusBadRequest)

					return
				}
				w.WriteHeader(tc.statuses[n-1])
				w.Write([]byte("payload"))
			}))
			defer server.Close()

			cl := newTestClient(server, tc.attempts)
			resp, err := cl.Get(context.Background(), server.URL+"/x", time.Second)

			require.Equal(t, tc.expectHits, hits.Load())

			if tc.expectStatus != 0 {
				require.Error(t, err)
				require.Nil(t, resp)

				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				require.Equal(t, tc.expectStatus, statusErr.StatusCode)
				require.Equal(t, server.URL+"/x", statusErr.URL)

				return
			}

			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, "payload", string(body))
		})
	}
}

func TestGetHeaderTimeout(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cl := newTestClient(server, 2)
	_, err := cl.Get(context.Background(), server.URL, 50*time.Millisecond)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, int32(2), hits.Load(), "timeouts are retried")
}

func TestGetBodyIdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cl := newTestClient(server, 1)
	resp, err := cl.Get(context.Background(), server.URL, 100*time.Millisecond)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestGetSlowButSteadyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 5; i++ {
			w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	defer server.Close()

	cl := newTestClient(server, 1)
	resp, err := cl.Get(context.Background(), server.URL, 150*time.Millisecond)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "each read restarts the idle timer")
	require.Equal(t, "xxxxx", string(body))
}

func TestGetCancelledContext(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cl := newTestClient(server, 3)
	_, err := cl.Get(ctx, server.URL, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(0), hits.Load())
}

func TestGetTransportErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cl := newTestClient(server, 2)
	_, err := cl.Get(context.Background(), url, time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempt(s)")
}

func TestStatusErrorRetryable(t *testing.T) {
	for code, want := range map[int]bool{
		429: true, 500: true, 502: true, 503: true, 504: true,
		400: false, 403: false, 404: false, 501: false,
	} {
		require.Equal(t, want, (&StatusError{StatusCode: code}).Retryable(), code)
	}
}
