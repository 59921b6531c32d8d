// Package appscheme serves plugin assets out of PluginStore's on-disk
// layout through an http.Handler. The webview host registers the
// app://plugins/... custom scheme and forwards matching requests to
// this handler mounted at the "/plugins/" path.
package appscheme

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
)

// PathResolver is the subset of pluginstore.Store this handler needs.
// Declared locally so appscheme does not import pluginstore, matching
// the dependency order leaves-first layering (AppSchemeHandler reads
// from PluginStore's path resolver, not the other way around).
type PathResolver interface {
	ResolveAppPluginsPath(serverID, pluginID, version, relPath string) (string, error)
}

// Handler adapts a PathResolver to net/http.
type Handler struct {
	Store PathResolver
}

// New constructs a Handler over store.
func New(store PathResolver) *Handler {
	return &Handler{Store: store}
}

const prefix = "/plugins/"

// ServeHTTP implements steps 1-7 of the scheme's request handling:
// reject anything outside the expected prefix with 404, split and
// percent-decode the remaining path, require at least four segments
// (server_id, plugin_id, version, and a relative path with at least
// one segment), resolve through the store, and serve the file with a
// suffix-inferred Content-Type. Any internal error is a 500, never a
// 4xx, since by this point the request shape has already been
// validated.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	var segments []string
	for _, raw := range strings.Split(rest, "/") {
		if raw == "" {
			continue
		}
		decoded, err := percentDecode(raw)
		if err != nil {
			http.Error(w, "invalid path segment", http.StatusBadRequest)
			return
		}
		segments = append(segments, decoded)
	}
	if len(segments) < 4 {
		http.Error(w, "path must include server_id, plugin_id, version, and a relative path", http.StatusBadRequest)
		return
	}

	serverID, pluginID, version := segments[0], segments[1], segments[2]
	relPath := strings.Join(segments[3:], "/")

	resolved, err := h.Store.ResolveAppPluginsPath(serverID, pluginID, version, relPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f, err := openFile(resolved)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(relPath))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// contentTypeFor maps a file suffix to the Content-Type spec.md names
// explicitly, falling back to mime.TypeByExtension and then to
// application/octet-stream.
func contentTypeFor(relPath string) string {
	switch strings.ToLower(path.Ext(relPath)) {
	case ".js", ".mjs":
		return "text/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	case ".ttf":
		return "font/ttf"
	}
	if t := mime.TypeByExtension(path.Ext(relPath)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// percentDecode is a minimal decoder handling only %xx hex-pair
// escapes; it does not treat '+' as a space, unlike form decoding.
func percentDecode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", errInvalidEscape
		}
		hi, ok1 := hexDigit(s[i+1])
		lo, ok2 := hexDigit(s[i+2])
		if !ok1 || !ok2 {
			return "", errInvalidEscape
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
