// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
)

// maxErrorBodySize limits the maximum amount of response body read for error
// reporting. This prevents unbounded memory allocation when reading large
// error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder message if reading fails.
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// RetryPolicy bounds the retry behavior shared by all source adapters.
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the sync.retry_* configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// statusError is a non-2xx provider response. Adapters inspect the code to
// map provider-specific statuses (401 on a revoked token, say) onto the
// error taxonomy before it reaches the scheduler.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.code, e.body)
}

// rateLimitedError carries the provider-indicated wait from an HTTP 429.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.retryAfter)
}

// apiClient is the HTTP layer shared by the source adapters. It retries
// transient transport errors with exponential backoff and jitter, and honors
// Retry-After on HTTP 429 before falling back to the same backoff.
type apiClient struct {
	http   *http.Client
	policy RetryPolicy
}

func newAPIClient(timeout time.Duration, policy RetryPolicy) *apiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy()
	}
	return &apiClient{
		http:   &http.Client{Timeout: timeout},
		policy: policy,
	}
}

// doRequest executes the request built by build, retrying on transport
// errors and HTTP 429. build is called once per attempt since request bodies
// are single-use.
func (c *apiClient) doRequest(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	err := retry.Do(
		func() error {
			req, err := build(ctx)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}

			r, err := c.http.Do(req)
			if err != nil {
				return err // transport error, retryable
			}

			if r.StatusCode == http.StatusTooManyRequests {
				delay := retryAfterDelay(r)
				_ = r.Body.Close()
				return &rateLimitedError{retryAfter: delay}
			}

			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.policy.Attempts),
		retry.Delay(c.policy.BaseDelay),
		retry.MaxDelay(c.policy.MaxDelay),
		retry.MaxJitter(c.policy.BaseDelay/2),
		retry.DelayType(c.delayType),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err.Error())
	}

	return resp, nil
}

// delayType prefers the provider-indicated Retry-After wait over the default
// exponential backoff with jitter.
func (c *apiClient) delayType(n uint, err error, config *retry.Config) time.Duration {
	if rl, ok := err.(*rateLimitedError); ok && rl.retryAfter > 0 {
		return rl.retryAfter
	}
	return retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)(n, err, config)
}

// retryAfterDelay parses the Retry-After header (RFC 6585), seconds form.
func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// getJSON performs the request and decodes a JSON body into result.
// Non-2xx responses are returned as errors with a bounded body excerpt.
func (c *apiClient) getJSON(ctx context.Context, build func(ctx context.Context) (*http.Request, error), result any) error {
	resp, err := c.doRequest(ctx, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readBodyForError(resp.Body)
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
