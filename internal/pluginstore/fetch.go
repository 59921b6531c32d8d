package pluginstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
)

// FetchResponse is the result of a same-origin plugin network request.
type FetchResponse struct {
	OK      bool              `json:"ok"`
	Status  int               `json:"status"`
	Body    string            `json:"bodyText"`
	Headers map[string]string `json:"headers"`
}

// NetworkFetch performs an HTTP request on a plugin's behalf, enforcing
// that the target URL shares the server's (scheme, host, port) origin —
// a plugin can reach its own server's extension API but never an
// arbitrary third-party host through this client.
func (s *Store) NetworkFetch(ctx context.Context, serverSocket, rawURL, method string, headers map[string]string, body string, tlsPolicyToken, tlsFingerprint string) (*FetchResponse, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, err)
	}

	base, err := url.Parse(r.origin)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, fmt.Errorf("invalid server origin: %w", err))
	}

	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, fmt.Errorf("missing url"))
	}
	full := trimmed
	if strings.HasPrefix(trimmed, "/") {
		full = strings.TrimRight(r.origin, "/") + trimmed
	}
	target, err := url.Parse(full)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, fmt.Errorf("invalid url: %w", err))
	}
	if !isSameOrigin(target, base) {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, apierr.ErrCrossOriginDenied)
	}

	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	var reqBody io.Reader
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, m, target.String(), reqBody)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, err)
	}
	for k, v := range headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := r.client.HTTP.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeNetworkFetchFailed, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	outHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		outHeaders[k] = resp.Header.Get(k)
	}
	bodyBytes, _ := io.ReadAll(resp.Body)

	return &FetchResponse{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		Body:    string(bodyBytes),
		Headers: outHeaders,
	}, nil
}

// StorageGet reads a single key from a plugin's storage.json. Returns
// (nil, false, nil) if the file or the key doesn't exist.
func (s *Store) StorageGet(ctx context.Context, serverSocket, pluginID, key, tlsPolicyToken, tlsFingerprint string) (any, bool, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	path, err := s.storageFilePath(r.serverID, pluginID)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	m, err := readJSONFile[map[string]any](path)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	if m == nil {
		return nil, false, nil
	}
	value, ok := (*m)[key]
	return value, ok, nil
}

// StorageSet writes a single key into a plugin's storage.json, creating
// the file if it doesn't already exist.
func (s *Store) StorageSet(ctx context.Context, serverSocket, pluginID, key string, value any, tlsPolicyToken, tlsFingerprint string) error {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	path, err := s.storageFilePath(r.serverID, pluginID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	m, err := readJSONFile[map[string]any](path)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	data := map[string]any{}
	if m != nil {
		data = *m
	}
	data[key] = value
	if err := writeJSONFile(path, data); err != nil {
		return apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	return nil
}
