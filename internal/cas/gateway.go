package cas

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

// GatewayOptions configures the hosted-gateway provider.
type GatewayOptions struct {
	// Endpoint is the authenticated API base, e.g.
	// "https://ipfs.infura.io:5001".
	Endpoint string
	// ProjectID and ProjectSecret form the basic-auth pair.
	ProjectID     string
	ProjectSecret string
	// Gateway is the public read gateway base for downloads.
	Gateway string
	Timeout time.Duration
}

// Gateway uploads through a hosted node API authenticated with basic
// auth and downloads through a public gateway.
type Gateway struct {
	opts   GatewayOptions
	client *http.Client
}

func NewGateway(opts GatewayOptions) *Gateway {
	return &Gateway{opts: opts, client: newClient(opts.Timeout)}
}

func (g *Gateway) Name() string { return "gateway" }

func (g *Gateway) IsConfigured() bool {
	return g.opts.ProjectID != "" && g.opts.ProjectSecret != ""
}

func (g *Gateway) LocatorURL(locator string) string {
	return joinGateway(g.opts.Gateway, locator)
}

func (g *Gateway) Upload(ctx context.Context, data []byte, filename string, _ map[string]string) (string, error) {
	if !g.IsConfigured() {
		return "", fmt.Errorf("cas: gateway credentials missing: %w", apperr.ErrConfiguration)
	}
	return addUpload(ctx, g.client, g.opts.Endpoint, uploadName(filename), data, func(req *http.Request) {
		req.SetBasicAuth(g.opts.ProjectID, g.opts.ProjectSecret)
	})
}

func (g *Gateway) Download(ctx context.Context, locator string) ([]byte, error) {
	return gatewayFetch(ctx, g.client, g.opts.Gateway, locator)
}

// addUpload posts a multipart form to an "/api/v0/add" endpoint and
// returns the locator from the response's Hash field.
func addUpload(ctx context.Context, client *http.Client, endpoint, filename string, data []byte, decorate func(*http.Request)) (string, error) {
	body, contentType, err := multipartBody(data, filename, "", nil)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/v0/add", body)
	if err != nil {
		return "", fmt.Errorf("cas: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if decorate != nil {
		decorate(req)
	}

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := doJSON(client, req, &out); err != nil {
		return "", err
	}
	if out.Hash == "" {
		return "", fmt.Errorf("cas: upload response missing locator: %w", apperr.ErrEncoding)
	}
	return out.Hash, nil
}
