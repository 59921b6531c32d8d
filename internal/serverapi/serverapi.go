// Package serverapi maps server sockets to HTTP origins and talks to a
// server's plugin-catalog HTTP API.
package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AcceptHeader is the vendor media type every plugin-store HTTP request
// advertises in its Accept header.
const AcceptHeader = "application/vnd.carrypigeon+json; version=1"

// ToHTTPOrigin maps a server socket (as used for the framed TCP/TLS
// session) to the HTTP(S) origin serving that server's plugin API. A
// tls-fp://{fingerprint}@host:port socket has its fingerprint prefix
// discarded; everything else that isn't already http(s) gets an https
// scheme assumed.
func ToHTTPOrigin(serverSocket string) (string, error) {
	raw := strings.TrimSpace(serverSocket)
	if raw == "" {
		return "", fmt.Errorf("missing server socket")
	}

	var mapped string
	switch {
	case strings.HasPrefix(raw, "ws://"):
		mapped = "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		mapped = "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "tcp://"):
		mapped = "http://" + strings.TrimPrefix(raw, "tcp://")
	case strings.HasPrefix(raw, "tls-insecure://"):
		mapped = "https://" + strings.TrimPrefix(raw, "tls-insecure://")
	case strings.HasPrefix(raw, "tls-fp://"):
		rest := strings.TrimPrefix(raw, "tls-fp://")
		addr := rest
		if idx := strings.Index(rest, "@"); idx >= 0 {
			addr = rest[idx+1:]
		}
		mapped = "https://" + addr
	case strings.HasPrefix(raw, "tls://"):
		mapped = "https://" + strings.TrimPrefix(raw, "tls://")
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		mapped = raw
	default:
		mapped = "https://" + raw
	}

	u, err := url.Parse(mapped)
	if err != nil {
		return "", fmt.Errorf("invalid server socket URL: %w", err)
	}
	port := portSuffix(u)
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Hostname(), port), nil
}

func portSuffix(u *url.URL) string {
	if p := u.Port(); p != "" {
		return ":" + p
	}
	return ""
}

// Download describes where and how to fetch a catalog entry's artifact.
type Download struct {
	URL    string `json:"url"`
	Sha256 string `json:"sha256"`
}

// CatalogItem is one entry in a server's plugin catalog.
type CatalogItem struct {
	PluginID string    `json:"plugin_id"`
	Version  string    `json:"version"`
	Download *Download `json:"download,omitempty"`
}

type catalogResponse struct {
	Plugins []CatalogItem `json:"plugins"`
}

type serverInfoResponse struct {
	ServerID string `json:"server_id"`
}

// Client requests a server's identity and plugin catalog over HTTP(S).
type Client struct {
	HTTP   *http.Client
	Origin string
}

// NewClient builds a Client bound to origin using httpClient (typically
// produced by tlspolicy.BuildClient for that origin's trust policy).
func NewClient(origin string, httpClient *http.Client) *Client {
	return &Client{HTTP: httpClient, Origin: strings.TrimRight(origin, "/")}
}

// FetchServerID requests GET /api/server and returns its non-empty
// server_id field.
func (c *Client) FetchServerID(ctx context.Context) (string, error) {
	var info serverInfoResponse
	if err := c.getJSON(ctx, "/api/server", &info); err != nil {
		return "", fmt.Errorf("failed to request /api/server: %w", err)
	}
	id := strings.TrimSpace(info.ServerID)
	if id == "" {
		return "", fmt.Errorf("missing server_id in /api/server response")
	}
	return id, nil
}

// FetchCatalog requests GET /api/plugins/catalog and returns its entries.
func (c *Client) FetchCatalog(ctx context.Context) ([]CatalogItem, error) {
	var catalog catalogResponse
	if err := c.getJSON(ctx, "/api/plugins/catalog", &catalog); err != nil {
		return nil, fmt.Errorf("failed to request /api/plugins/catalog: %w", err)
	}
	return catalog.Plugins, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Origin+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", AcceptHeader)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s JSON: %w", path, err)
	}
	return nil
}
