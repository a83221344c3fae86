// Package asset fetches invoice documents (images, PDFs) from the artifact
// store by file key.
package asset

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
)

// DefaultMaxBytes caps the document size read into memory.
const DefaultMaxBytes = 25 << 20 // 25 MiB

// Options configures the fetcher.
type Options struct {
	// BaseURL is the artifact store root; file keys are resolved under it.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// RatePerSec limits requests against the artifact store.
	RatePerSec float64
	Burst      int
}

// Document is a fetched invoice artifact.
type Document struct {
	Body        []byte
	ContentType string
}

// Fetcher retrieves invoice documents over HTTP. Retries are owned by the
// task queue, so a call makes exactly one attempt and classifies the
// failure instead of sleeping.
type Fetcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewFetcher creates a document fetcher for the given artifact store.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 20
	}
	if opts.Burst == 0 {
		opts.Burst = 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "invoice-pipeline/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
	}
}

// Fetch downloads the document for a file key. Network failures and 5xx
// responses come back transient; a missing or forbidden key is permanent
// because no retry will make the artifact appear.
func (f *Fetcher) Fetch(ctx context.Context, fileKey string) (*Document, error) {
	target, err := url.JoinPath(f.opts.BaseURL, fileKey)
	if err != nil {
		return nil, eris.Wrapf(err, "asset: bad file key %q", fileKey)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "asset: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "asset: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "asset: fetch %s", fileKey), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("asset: fetch %s: status %d", fileKey, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "asset: read body for %s", fileKey), 0)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, eris.Errorf("asset: %s exceeds %d byte limit", fileKey, f.opts.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = sniffContentType(fileKey, body)
	}

	zap.L().Debug("asset: document fetched",
		zap.String("file_key", fileKey),
		zap.Int("bytes", len(body)),
		zap.String("content_type", contentType),
	)
	return &Document{Body: body, ContentType: contentType}, nil
}

func sniffContentType(fileKey string, body []byte) string {
	switch {
	case strings.HasSuffix(fileKey, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(fileKey, ".png"):
		return "image/png"
	case strings.HasSuffix(fileKey, ".jpg"), strings.HasSuffix(fileKey, ".jpeg"):
		return "image/jpeg"
	}
	return http.DetectContentType(body)
}
