// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/secret"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second

	// DigestHeader carries the package-domain BLAKE3 digest of the
	// uploaded body as "blake3=<hex>".
	DigestHeader = "X-Content-Digest"
)

// ServerDestination uploads packages to a collection server with an
// HTTP POST per package.
type ServerDestination struct {
	// URL is the collection endpoint.
	URL string

	Customer   string
	Repository string

	// Token, when set, is sent as a bearer token.
	Token *secret.Buffer

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Retries is the number of attempts after the first. Defaults to 3.
	Retries int

	// RetryDelay is the wait before the first retry; it doubles on
	// each subsequent one. Defaults to 2s.
	RetryDelay time.Duration

	// MaxPackageBytes bounds each upload. Defaults to MaxFileBound.
	MaxPackageBytes int64

	// Clock paces retries. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives per-attempt failures. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

func (d *ServerDestination) Name() string { return "server" }

func (d *ServerDestination) Validate() error {
	if d.URL == "" {
		return errors.New("server destination: URL is required")
	}
	parsed, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("server destination: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("server destination: URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server destination: URL %q has no host", d.URL)
	}
	if d.Customer == "" {
		return errors.New("server destination: customer is required")
	}
	return nil
}

func (d *ServerDestination) Bound() (int64, error) {
	if d.MaxPackageBytes > 0 {
		return d.MaxPackageBytes, nil
	}
	return MaxFileBound, nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("server returned %d %s", e.code, http.StatusText(e.code))
	}
	return fmt.Sprintf("server returned %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

// retryable reports whether another attempt could succeed. Client
// errors other than timeouts and rate limiting are final.
func retryable(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		switch {
		case status.code == http.StatusRequestTimeout, status.code == http.StatusTooManyRequests:
			return true
		case status.code >= 400 && status.code < 500:
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

func (d *ServerDestination) Deliver(ctx context.Context, pkg *Package) session.Outcome {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	retries := d.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	delay := d.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	digest, err := archive.HashPackageFile(pkg.Path)
	if err != nil {
		return failed(d, pkg, err)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-clk.After(delay):
			case <-ctx.Done():
				return failed(d, pkg, fmt.Errorf("%w (last attempt: %v)", ctx.Err(), lastErr))
			}
			delay *= 2
		}
		written, err := d.post(ctx, pkg, digest)
		if err == nil {
			return session.Succeeded(
				fmt.Sprintf("uploaded %q (%s)", pkg.Caption, humanize.Bytes(uint64(written))),
				written,
			)
		}
		lastErr = err
		logger.Warn("package upload failed",
			"url", d.URL,
			"package", pkg.Caption,
			"attempt", attempt+1,
			"error", err,
		)
		if !retryable(err) {
			break
		}
	}
	return failed(d, pkg, lastErr)
}

func (d *ServerDestination) post(ctx context.Context, pkg *Package, digest archive.Digest) (int64, error) {
	file, err := os.Open(pkg.Path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, file)
	if err != nil {
		return 0, err
	}
	request.ContentLength = info.Size()
	request.Header.Set("User-Agent", version.UserAgent())
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set(DigestHeader, "blake3="+digest.String())
	request.Header.Set("X-Session-Customer", d.Customer)
	if d.Token != nil && d.Token.Len() > 0 {
		request.Header.Set("Authorization", "Bearer "+d.Token.String())
	}
	if d.Repository != "" {
		request.Header.Set("X-Session-Repository", d.Repository)
	}
	request.Header.Set("X-Session-Count", strconv.Itoa(pkg.Stats.Sessions))
	if pkg.Problems {
		request.Header.Set("X-Session-Problems", "true")
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return 0, &statusError{code: response.StatusCode, body: string(body)}
	}
	io.Copy(io.Discard, response.Body)
	return info.Size(), nil
}
