package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Download retry defaults
const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 32 * time.Second
	DefaultTimeout        = 10 * time.Minute
)

// HTTPFetcher downloads documents with exponential backoff
type HTTPFetcher struct {
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxFileSize    int64
	logger         *logging.Logger
}

// HTTPFetcherConfig holds download configuration; zero values take the defaults
type HTTPFetcherConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	MaxFileSize    int64
	Logger         *logging.Logger
}

// NewHTTPFetcher creates an HTTP fetcher
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("HTTPFetcher")
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxFileSize:    cfg.MaxFileSize,
		logger:         cfg.Logger,
	}
}

// attemptError marks whether a failed attempt is worth another try
type attemptError struct {
	err       error
	retryable bool
}

// Fetch downloads url. 5xx responses and transport errors are retried; 4xx
// responses and oversized bodies fail immediately.
func (h *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		h.logger.Debug("Download attempt", "attempt", attempt, "maxRetries", h.maxRetries, "url", url)

		data, aerr := h.attempt(ctx, url)
		if aerr == nil {
			h.logger.Info("Download successful", "attempt", attempt, "bytes", len(data))
			return data, nil
		}

		lastErr = aerr.err
		h.logger.Warn("Download attempt failed", "attempt", attempt, "error", aerr.err.Error())
		if !aerr.retryable {
			return nil, aerr.err
		}

		if attempt < h.maxRetries {
			backoff := h.backoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, apperrors.NewDownloadFailedError(url, h.maxRetries, lastErr)
}

// backoff doubles from the initial delay, capped at maxBackoff
func (h *HTTPFetcher) backoff(attempt int) time.Duration {
	delay := h.initialBackoff << uint(attempt-1)
	if delay > h.maxBackoff || delay <= 0 {
		delay = h.maxBackoff
	}
	return delay
}

func (h *HTTPFetcher) attempt(ctx context.Context, url string) ([]byte, *attemptError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("invalid URL: %w", err)}
	}
	req.Header.Set("Accept", "image/png, image/jpeg, image/tiff, image/webp, */*")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &attemptError{err: err, retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &attemptError{err: fmt.Errorf("client error: status code %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &attemptError{err: fmt.Errorf("server error: status code %d", resp.StatusCode), retryable: true}
	}

	if h.maxFileSize > 0 && resp.ContentLength > h.maxFileSize {
		return nil, &attemptError{err: fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, h.maxFileSize)}
	}

	reader := io.Reader(resp.Body)
	if h.maxFileSize > 0 {
		// one extra byte distinguishes "exactly the limit" from "over it"
		reader = io.LimitReader(resp.Body, h.maxFileSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("failed to read response body: %w", err), retryable: true}
	}
	if h.maxFileSize > 0 && int64(len(data)) > h.maxFileSize {
		return nil, &attemptError{err: fmt.Errorf("file size exceeds maximum of %d bytes", h.maxFileSize)}
	}
	return data, nil
}
