package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

// PinningOptions configures the pinning-service provider.
type PinningOptions struct {
	// Endpoint is the API base URL, e.g. "https://api.pinata.cloud".
	Endpoint string
	// APIKey and SecretKey authenticate via the service's header scheme.
	APIKey    string
	SecretKey string
	// Gateway is the public gateway base for downloads and LocatorURL,
	// e.g. "https://gateway.pinata.cloud/ipfs".
	Gateway string
	Timeout time.Duration
}

// Pinning uploads through a commercial pinning service and downloads
// through its public gateway. The only provider that supports explicit
// pin/unpin by locator.
type Pinning struct {
	opts   PinningOptions
	client *http.Client
}

// NewPinning builds the provider. Credentials are checked lazily via
// IsConfigured, not here.
func NewPinning(opts PinningOptions) *Pinning {
	return &Pinning{opts: opts, client: newClient(opts.Timeout)}
}

func (p *Pinning) Name() string { return "pinning" }

func (p *Pinning) IsConfigured() bool {
	return p.opts.APIKey != "" && p.opts.SecretKey != ""
}

func (p *Pinning) LocatorURL(locator string) string {
	return joinGateway(p.opts.Gateway, locator)
}

func (p *Pinning) auth(req *http.Request) {
	req.Header.Set("pinata_api_key", p.opts.APIKey)
	req.Header.Set("pinata_secret_api_key", p.opts.SecretKey)
}

// Upload posts a multipart form to the pinFileToIPFS endpoint. meta, if
// present, rides along as the service's metadata form field.
func (p *Pinning) Upload(ctx context.Context, data []byte, filename string, meta map[string]string) (string, error) {
	if !p.IsConfigured() {
		return "", fmt.Errorf("cas: pinning credentials missing: %w", apperr.ErrConfiguration)
	}
	filename = uploadName(filename)

	var metaJSON []byte
	if len(meta) > 0 {
		var err error
		metaJSON, err = json.Marshal(map[string]any{"name": filename, "keyvalues": meta})
		if err != nil {
			return "", fmt.Errorf("cas: encode metadata: %w", err)
		}
	}
	body, contentType, err := multipartBody(data, filename, "pinataMetadata", metaJSON)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", fmt.Errorf("cas: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	p.auth(req)

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := doJSON(p.client, req, &out); err != nil {
		return "", err
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("cas: upload response missing locator: %w", apperr.ErrEncoding)
	}
	return out.IpfsHash, nil
}

func (p *Pinning) Download(ctx context.Context, locator string) ([]byte, error) {
	return gatewayFetch(ctx, p.client, p.opts.Gateway, locator)
}

// Pin asks the service to pin existing content by locator.
func (p *Pinning) Pin(ctx context.Context, locator string) error {
	payload, _ := json.Marshal(map[string]string{"hashToPin": locator})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint+"/pinning/pinByHash", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cas: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.auth(req)
	return doJSON(p.client, req, nil)
}

// Unpin releases a pinned locator.
func (p *Pinning) Unpin(ctx context.Context, locator string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.opts.Endpoint+"/pinning/unpin/"+locator, nil)
	if err != nil {
		return fmt.Errorf("cas: build request: %w", err)
	}
	p.auth(req)
	return doJSON(p.client, req, nil)
}
