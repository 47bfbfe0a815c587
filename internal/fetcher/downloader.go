// Package fetcher downloads source documents over HTTP into the local cache.
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"plenario/internal/fsutil"
	"plenario/internal/runner"
)

// ErrEmptyBody is returned when the server answers 200 with no content.
var ErrEmptyBody = errors.New("empty response body")

// StatusError is a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d", e.Code) }

// Retryable reports whether a later attempt can succeed. Client errors other
// than timeouts and rate limiting cannot.
func (e *StatusError) Retryable() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code < 400 || e.Code >= 500
}

type Options struct {
	// Timeout bounds one request including the body transfer.
	Timeout            time.Duration
	UserAgent          string
	InsecureSkipVerify bool
	Logger             *slog.Logger
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
}

type Downloader struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
	throttle  *Throttle
}

// loggingRoundTripper emits one debug line per request and response.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("http request", "method", req.Method, "url", req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("http error", "url", req.URL.String(), "elapsed", dur, "error", err)
	} else {
		t.logger.Debug("http response", "url", req.URL.String(), "status", resp.StatusCode, "elapsed", dur)
	}
	return resp, err
}

func NewDownloader(opts Options) *Downloader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := opts.Transport
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via download.insecure_skip_verify
		}
		base = tr
	}

	return &Downloader{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &loggingRoundTripper{base: base, logger: logger},
		},
		userAgent: opts.UserAgent,
		logger:    logger,
		throttle:  NewThrottle(),
	}
}

// Download fetches url into dest and returns the number of bytes written.
// The file appears at dest only once it is complete. Errors that no retry can
// fix are marked with runner.Permanent.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	if err := d.throttle.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, runner.Permanent(fmt.Errorf("build request: %w", err))
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.throttle.Observe(resp)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		serr := &StatusError{Code: resp.StatusCode}
		if !serr.Retryable() {
			return 0, runner.Permanent(serr)
		}
		return 0, serr
	}

	var written int64
	err = fsutil.WriteAtomic(dest, 0o644, func(w io.Writer) error {
		n, err := io.Copy(w, resp.Body)
		written = n
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if n == 0 {
			return ErrEmptyBody
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
