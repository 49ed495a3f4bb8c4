// Package fetcher downloads the source label page.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dailymed-etl/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFetch wraps every failure to retrieve the source document.
	ErrFetch = errors.New("fetch source document")
	// ErrBodyTooLarge is returned when the document exceeds the size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "dailymed-etl/1.0"
	maxBodyBytes     = 32 << 20
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// retryable reports whether a status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client downloads the source page. Transient failures are retried with
// exponential backoff; Attempts of 1 disables retries.
type Client struct {
	http      *http.Client
	retryCfg  config.RetryConfig
	userAgent string
	maxBody   int64
	log       logrus.FieldLogger
}

// New builds a Client from the source and retry configuration.
func New(src config.SourceConfig, retryCfg config.RetryConfig, log logrus.FieldLogger) *Client {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := src.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBody := src.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxBodyBytes
	}
	if retryCfg.Attempts < 1 {
		retryCfg.Attempts = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		http:      &http.Client{Timeout: timeout},
		retryCfg:  retryCfg,
		userAgent: ua,
		maxBody:   maxBody,
		log:       log,
	}
}

// Fetch performs a GET against url and returns the response body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	if c.retryCfg.DelayMS > 0 {
		eb.InitialInterval = time.Duration(c.retryCfg.DelayMS) * time.Millisecond
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.retryCfg.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt,
				"max":     c.retryCfg.Attempts,
				"retryIn": next,
			}).WithError(err).Warn("source fetch failed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, backoff.Permanent(fmt.Errorf("%w: response body exceeds %d bytes", ErrBodyTooLarge, c.maxBody))
	}
	return body, nil
}
