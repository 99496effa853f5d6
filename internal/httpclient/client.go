// Package httpclient provides the shared outbound HTTP client used by the
// transcription, summarization, and note-store collaborators: a pooled
// client, a token-bucket rate limit shared by every request sent through
// it, and a retry helper with a fixed 2/4/8s backoff schedule.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"airwaves/internal/apperr"
	"airwaves/internal/logging"
)

var log = logging.For("httpclient")

// New returns an *http.Client tuned for long-lived outbound calls to a
// handful of external providers: bounded idle connections, generous
// per-request timeout left to the caller via context.
func New() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Limiter wraps an *http.Client with a token-bucket rate limit shared
// across all requests issued through it, so a burst of jobs cannot
// overrun a provider's own rate limit.
type Limiter struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewLimiter returns a Limiter allowing ratePerSecond requests per second
// with a burst of burst.
func NewLimiter(client *http.Client, ratePerSecond float64, burst int) *Limiter {
	return &Limiter{client: client, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Do waits for a rate limit token, honoring ctx cancellation, then
// performs req.
func (l *Limiter) Do(req *http.Request) (*http.Response, error) {
	if err := l.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return l.client.Do(req)
}

// RetrySchedule is the fixed backoff sequence used by DoWithRetry: the
// delay before each retry, 2s, then 4s, then 8s.
var RetrySchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Doer is satisfied by *http.Client and *Limiter.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoWithRetry executes newReq (a factory, since a *http.Request cannot be
// replayed once its body is consumed) up to len(RetrySchedule)+1 times,
// sleeping RetrySchedule[attempt] between failures. A response with a
// non-retriable 4xx status (any 4xx other than 429) short-circuits into
// apperr.ExternalRejected without consuming a retry. Network errors, 429,
// and 5xx responses are classified as apperr.ExternalUnavailable and
// retried. The returned int is the number of attempts made, so callers
// can surface it on a job record.
func DoWithRetry(ctx context.Context, doer Doer, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, attempt + 1, fmt.Errorf("build request: %w", err)
		}

		resp, err := doer.Do(req)
		if err != nil {
			lastErr = apperr.E(apperr.ExternalUnavailable, "request failed", err)
		} else if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = apperr.E(apperr.ExternalUnavailable, "provider returned 429", nil)
		} else if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, attempt + 1, apperr.E(apperr.ExternalRejected, fmt.Sprintf("provider rejected request: %d %s", resp.StatusCode, body), nil)
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = apperr.E(apperr.ExternalUnavailable, fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
		} else {
			return resp, attempt + 1, nil
		}

		if attempt >= len(RetrySchedule) {
			return nil, attempt + 1, lastErr
		}
		log.Printf("attempt %d failed, retrying in %s: %v", attempt+1, RetrySchedule[attempt], lastErr)
		select {
		case <-time.After(RetrySchedule[attempt]):
		case <-ctx.Done():
			return nil, attempt + 1, ctx.Err()
		}
	}
}
