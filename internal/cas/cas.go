// Package cas uploads and downloads ciphertext blobs to a
// content-addressable store. Five provider strategies sit behind one
// interface: a pinning service, a hosted gateway, a local node, and two
// embedded development backends (filesystem and LevelDB). Locators are
// opaque; they always address ciphertext, never plaintext.
package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

// DefaultTimeout bounds every network call a provider makes.
const DefaultTimeout = 60 * time.Second

const maxDownloadSize = 100 << 20 // 100 MB

// Provider is one content-addressable store strategy.
type Provider interface {
	// Name identifies the strategy ("pinning", "gateway", "node", "fs", "leveldb").
	Name() string
	// Upload posts data and returns the locator addressing it. A failed
	// upload returns an error and no locator; callers must treat it as
	// a hard stop.
	Upload(ctx context.Context, data []byte, filename string, meta map[string]string) (string, error)
	// Download fetches the blob for locator. Absence is ErrNotFound,
	// distinct from transport errors.
	Download(ctx context.Context, locator string) ([]byte, error)
	// IsConfigured reports whether the provider has the credentials and
	// endpoints it needs, without any network call.
	IsConfigured() bool
	// LocatorURL derives a fetch URL for locator. Pure string
	// construction.
	LocatorURL(locator string) string
}

// Pinner is implemented by providers that can pin content by locator.
type Pinner interface {
	Pin(ctx context.Context, locator string) error
	Unpin(ctx context.Context, locator string) error
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// uploadName substitutes a generated name when the caller supplied none.
func uploadName(filename string) string {
	if strings.TrimSpace(filename) == "" {
		return uuid.New().String() + ".bin"
	}
	return filename
}

// multipartBody builds a multipart form with one "file" part and, when
// metaJSON is non-nil, one extra form field carrying it.
func multipartBody(data []byte, filename, metaField string, metaJSON []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("cas: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("cas: build form: %w", err)
	}
	if metaJSON != nil {
		if err := w.WriteField(metaField, string(metaJSON)); err != nil {
			return nil, "", fmt.Errorf("cas: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("cas: build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// doJSON runs req and decodes a JSON object response. Non-2xx responses
// surface the body text as the error message.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return transportErr(req.URL.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return transportErr(req.URL.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cas: %s %s: HTTP %d: %s: %w",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)), apperr.ErrNetwork)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cas: decode response: %w", apperr.ErrEncoding)
	}
	return nil
}

// transportErr classifies a transport failure as timeout or network.
func transportErr(host string, err error) error {
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		return fmt.Errorf("cas: %s: %v: %w", host, err, apperr.ErrTimeout)
	}
	return fmt.Errorf("cas: %s: %v: %w", host, err, apperr.ErrNetwork)
}

// gatewayFetch downloads gateway/locator. 404 and 410 map to
// ErrNotFound; other non-200s are network errors.
func gatewayFetch(ctx context.Context, client *http.Client, gateway, locator string) ([]byte, error) {
	fetchURL := joinGateway(gateway, locator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cas: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportErr(req.URL.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("cas: %s: %w", locator, apperr.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cas: download %s: HTTP %d: %w", locator, resp.StatusCode, apperr.ErrNetwork)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, transportErr(req.URL.Host, err)
	}
	return data, nil
}

// joinGateway joins a gateway base URL and a locator with exactly one
// separating slash.
func joinGateway(gateway, locator string) string {
	return strings.TrimSuffix(gateway, "/") + "/" + locator
}
