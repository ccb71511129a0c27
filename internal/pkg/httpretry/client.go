// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff and full jitter. The consolidator uses it for the end of run
// Pushgateway push, where a gateway restart should not lose a run's metrics.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/lead-consolidator/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client both satisfy it, as
// does the HTTPDoer the Prometheus push package expects.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Client. Zero values take the defaults.
type Options struct {
	MaxRetries int           // retries after the first attempt, default 3
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 30s
	Logger     *logger.Logger
}

// Client retries transient failures of the wrapped Doer.
type Client struct {
	next       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// New wraps next. A nil next uses an http.Client with a 30s timeout.
func New(next Doer, opts Options) *Client {
	if next == nil {
		next = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		next:       next,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		log:        opts.Logger,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = time.Second
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 30 * time.Second
	}
	if c.log == nil {
		c.log = logger.Default()
	}
	return c
}

// Do sends req, retrying on 429, 5xx gateway errors and transport errors.
// Client errors and context cancellation are returned at once. After the
// last attempt a retryable response is returned as is so the caller can
// read its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.backoff(attempt)
			c.log.Warn("retrying http request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"delay_ms", delay.Milliseconds(),
				"last_error", fmt.Sprint(lastErr),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.next.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !Retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns a random delay in [0, min(maxDelay, baseDelay*2^(attempt-1))],
// floored at a tenth of baseDelay.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(c.maxDelay) {
		ceiling = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * ceiling)
	if floor := c.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

// Retryable reports whether status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
