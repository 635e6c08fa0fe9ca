package cas

import (
	"context"
	"net/http"
	"time"
)

// NodeOptions configures the local-node provider.
type NodeOptions struct {
	// URL is the node API base, e.g. "http://localhost:5001".
	URL string
	// Gateway is the read gateway base; defaults to the node's own
	// gateway port when empty.
	Gateway string
	Timeout time.Duration
}

// Node talks to a self-hosted node with no authentication.
type Node struct {
	opts   NodeOptions
	client *http.Client
}

func NewNode(opts NodeOptions) *Node {
	if opts.URL == "" {
		opts.URL = "http://localhost:5001"
	}
	if opts.Gateway == "" {
		opts.Gateway = "http://localhost:8080/ipfs"
	}
	return &Node{opts: opts, client: newClient(opts.Timeout)}
}

func (n *Node) Name() string { return "node" }

// IsConfigured is unconditionally true; a local node is assumed
// reachable, and failures surface on the first call.
func (n *Node) IsConfigured() bool { return true }

func (n *Node) LocatorURL(locator string) string {
	return joinGateway(n.opts.Gateway, locator)
}

func (n *Node) Upload(ctx context.Context, data []byte, filename string, _ map[string]string) (string, error) {
	return addUpload(ctx, n.client, n.opts.URL, uploadName(filename), data, nil)
}

func (n *Node) Download(ctx context.Context, locator string) ([]byte, error) {
	return gatewayFetch(ctx, n.client, n.opts.Gateway, locator)
}
