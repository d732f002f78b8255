package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
	defaultUserAgent   = "rinexfetch/1.0"
	defaultIdleConns   = 8
	drainLimit         = 4096
)

var ErrTimeout = errors.New("timeout")

// retryStatuses are answered with another attempt. Everything else outside 2xx is final.
var retryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

func (e *StatusError) Retryable() bool {
	_, ok := retryStatuses[e.StatusCode]

	return ok
}

type Config struct {
	MaxAttempts         int           // Attempts per request including the first one
	BackoffBase         time.Duration // Delay before the second attempt, doubled afterwards
	UserAgent           string
	MaxIdleConnsPerHost int
}

// Client is the session shared by listing and file requests: one pooled transport
// and one retry policy applied to every GET.
type Client struct {
	hc  *http.Client
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	cfg = withDefaults(cfg)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	return NewWithHTTPClient(&http.Client{Transport: transport}, cfg, log)
}

func NewWithHTTPClient(hc *http.Client, cfg Config, log *slog.Logger) *Client {
	return &Client{
		hc:  hc,
		cfg: withDefaults(cfg),
		log: log.With(slog.String("item", "HTTPClient")),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = defaultBackoffBase
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if cfg.MaxIdleConnsPerHost < 1 {
		cfg.MaxIdleConnsPerHost = defaultIdleConns
	}

	return cfg
}

// Get issues a GET and returns a 2xx response whose body the caller must close.
// The timeout bounds the wait for response headers and every gap between body reads.
// Transport errors and retryable statuses are retried with exponential backoff.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	var (
		resp     *http.Response
		attempts int
	)

	op := func() error {
		attempts++

		r, err := c.do(ctx, url, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return err
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r

			return nil
		}

		drain(r.Body)

		statusErr := &StatusError{StatusCode: r.StatusCode, URL: url}
		if !statusErr.Retryable() {
			return backoff.Permanent(statusErr)
		}

		return statusErr
	}

	notify := func(err error, d time.Duration) {
		c.log.Warn("Request failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", d),
			slog.Any("error", err))
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("cannot get %s after %d attempt(s): %w", url, attempts, err)
	}

	return resp, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BackoffBase
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxAttempts-1)), ctx)
}

func (c *Client) do(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()

		return nil, backoff.Permanent(fmt.Errorf("cannot create request: %w", err))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	w := newWatchdog(timeout, cancel)

	resp, err := c.hc.Do(req)
	if err != nil {
		w.stop()

		if w.fired.Load() {
			return nil, fmt.Errorf("%w: no response within %s: %w", ErrTimeout, timeout, err)
		}

		return nil, err
	}

	resp.Body = &watchedBody{rc: resp.Body, w: w}

	return resp, nil
}

// watchdog cancels a request when it sees no progress for the timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{timeout: timeout, cancel: cancel}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})

	return w
}

func (w *watchdog) kick() {
	w.timer.Reset(w.timeout)
}

func (w *watchdog) stop() {
	w.timer.Stop()
	w.cancel()
}

type watchedBody struct {
	rc io.ReadCloser
	w  *watchdog
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.w.kick()
	}

	if err != nil && !errors.Is(err, io.EOF) && b.w.fired.Load() {
		err = fmt.Errorf("%w: no data for %s: %w", ErrTimeout, b.w.timeout, err)
	}

	return n, err
}

func (b *watchedBody) Close() error {
	err := b.rc.Close()
	b.w.stop()

	return err
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	body.Close()
}
