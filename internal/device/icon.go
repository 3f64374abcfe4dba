package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
)

const (
	defaultIconTimeout = 10 * time.Second
	defaultIconMaxSize = 1 << 20
)

// Icon is a downloaded device icon.
type Icon struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// IconFetcher downloads device icons over HTTP/1.1 or HTTP/2.
type IconFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewIconFetcher creates a fetcher whose requests time out after timeout
// and whose bodies are capped at maxSize bytes. Zero values pick 10s and
// 1 MiB.
func NewIconFetcher(timeout time.Duration, maxSize int64) (*IconFetcher, error) {
	if timeout <= 0 {
		timeout = defaultIconTimeout
	}
	if maxSize <= 0 {
		maxSize = defaultIconMaxSize
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("device: default transport is not *http.Transport")
	}
	transport := base.Clone()
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}

	return &IconFetcher{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		maxSize: maxSize,
	}, nil
}

// Fetch downloads rawURL. mimeType is the type advertised in the device
// description; when empty the response Content-Type is used. Cancelling
// ctx aborts the request and Fetch returns ctx.Err().
func (f *IconFetcher) Fetch(ctx context.Context, rawURL, mimeType string) (Icon, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Icon{}, ErrInvalidIconURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Icon{}, ErrInvalidIconURL
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Icon{}, ctx.Err()
		}
		return Icon{}, fmt.Errorf("%w: %v", ErrIconFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Icon{}, fmt.Errorf("%w: %s", ErrIconFetch, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return Icon{}, ctx.Err()
		}
		return Icon{}, fmt.Errorf("%w: %v", ErrIconFetch, err)
	}
	if int64(len(data)) > f.maxSize {
		return Icon{}, fmt.Errorf("%w: icon larger than %d bytes", ErrIconFetch, f.maxSize)
	}

	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return Icon{Data: data, MimeType: mimeType}, nil
}
