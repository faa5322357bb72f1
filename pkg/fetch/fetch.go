// Package fetch retrieves configuration documents (e.g. car configs) by path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/racesim/log"
)

const (
	defaultTimeout      = 10 * time.Second
	instrumentationName = "github.com/mpapenbr/racesim/pkg/fetch"
)

var ErrNotFound = errors.New("not found")

type (
	Fetcher interface {
		Get(ctx context.Context, path string) ([]byte, error)
	}

	HTTPFetcher struct {
		baseURL string
		client  *http.Client
		l       *log.Logger
	}
	HTTPOption func(*HTTPFetcher)

	// FileFetcher resolves paths relative to a root directory.
	FileFetcher struct {
		root string
	}
)

func WithClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

func WithLogger(l *log.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.l = l
	}
}

func NewHTTPFetcher(baseURL string, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		l:       log.Default().Named("fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get requests baseURL/path. Absolute URLs are used as they are.
func (f *HTTPFetcher) Get(ctx context.Context, path string) (data []byte, err error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = fmt.Sprintf("%s/%s", f.baseURL, strings.TrimLeft(path, "/"))
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "fetch.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", url)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.End()
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetching %s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetching %s: non-200 status code: %d", url, resp.StatusCode)
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	f.l.Debug("fetched",
		log.String("url", url),
		log.Int("bytes", len(data)),
		log.Duration("duration", time.Since(start)))
	return data, nil
}

func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: root}
}

func (f *FileFetcher) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(f.root, filepath.FromSlash(path))
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", full, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", full, err)
	}
	return data, nil
}

// WaitForHTTPResponse polls url until any response arrives or timeout is
// reached. Used before fetching from a server that may still be starting.
func WaitForHTTPResponse(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	start := time.Now()
	log.Debug("wait for http request",
		log.String("url", url),
		log.String("timeout", timeout.String()))
	cli := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return err
		}
		if resp, err := cli.Do(req); err == nil {
			resp.Body.Close()
			log.Debug("http request successful",
				log.String("url", url),
				log.String("duration", time.Since(start).String()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s could not be reached after %v", url, timeout)
}
