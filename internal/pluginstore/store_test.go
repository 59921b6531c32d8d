package pluginstore

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func buildPluginZip(t *testing.T, pluginID, version string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)

	manifest, err := w.Create("plugin.json")
	if err != nil {
		t.Fatalf("create plugin.json: %v", err)
	}
	payload, _ := json.Marshal(map[string]any{
		"plugin_id":        pluginID,
		"name":             "Test Plugin",
		"version":          version,
		"min_host_version": "1.0.0",
		"entry":            "index.mjs",
	})
	if _, err := manifest.Write(payload); err != nil {
		t.Fatalf("write plugin.json: %v", err)
	}

	entry, err := w.Create("index.mjs")
	if err != nil {
		t.Fatalf("create index.mjs: %v", err)
	}
	if _, err := entry.Write([]byte("export default {}")); err != nil {
		t.Fatalf("write index.mjs: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, serverID string, zipBytes []byte) *httptest.Server {
	t.Helper()
	sum := sha256.Sum256(zipBytes)
	sha := hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	mux.HandleFunc("/api/server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"server_id": serverID})
	})
	mux.HandleFunc("/api/plugins/catalog", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"plugins": []map[string]any{
				{
					"plugin_id": "chat",
					"version":   "1.0.0",
					"download": map[string]string{
						"url":    "/artifacts/chat-1.0.0.zip",
						"sha256": sha,
					},
				},
			},
		})
	})
	mux.HandleFunc("/artifacts/chat-1.0.0.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})
	return httptest.NewServer(mux)
}

func TestInstallFromCatalogAndEnable(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	ctx := context.Background()

	state, err := store.InstallFromCatalog(ctx, srv.URL, "chat", "", "strict", "")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if state.PluginID != "chat" || len(state.InstalledVersions) != 1 || state.InstalledVersions[0] != "1.0.0" {
		t.Fatalf("unexpected installed state: %+v", state)
	}
	if state.Enabled {
		t.Fatal("expected plugin to start disabled")
	}

	enabled, err := store.Enable(ctx, srv.URL, "chat", "strict", "")
	if err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if !enabled.Enabled {
		t.Fatal("expected plugin to be enabled")
	}
	if enabled.Status != "ok" {
		t.Fatalf("expected ok status, got %s", enabled.Status)
	}
}

func TestInstallFromCatalogRejectsUnknownPlugin(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	if _, err := store.InstallFromCatalog(context.Background(), srv.URL, "missing-plugin", "", "strict", ""); err == nil {
		t.Fatal("expected error for plugin not in catalog")
	}
}

func TestInstallFromCatalogRejectsVersionMismatch(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	if _, err := store.InstallFromCatalog(context.Background(), srv.URL, "chat", "9.9.9", "strict", ""); err == nil {
		t.Fatal("expected error for version mismatch")
	}
}

func TestEnableFailsWithoutInstall(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	if _, err := store.Enable(context.Background(), srv.URL, "chat", "strict", ""); err == nil {
		t.Fatal("expected error enabling an uninstalled plugin")
	}
}

func TestDisableAndSwitchVersionAndUninstall(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	ctx := context.Background()

	if _, err := store.InstallFromCatalog(ctx, srv.URL, "chat", "", "strict", ""); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if _, err := store.Enable(ctx, srv.URL, "chat", "strict", ""); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	disabled, err := store.Disable(ctx, srv.URL, "chat", "strict", "")
	if err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if disabled.Enabled {
		t.Fatal("expected plugin to be disabled")
	}

	if _, err := store.SwitchVersion(ctx, srv.URL, "chat", "9.9.9", "strict", ""); err == nil {
		t.Fatal("expected error switching to an uninstalled version")
	}

	if err := store.Uninstall(ctx, srv.URL, "chat", "strict", ""); err != nil {
		t.Fatalf("uninstall failed: %v", err)
	}
	got, err := store.GetInstalled(ctx, srv.URL, "chat", "strict", "")
	if err != nil {
		t.Fatalf("get installed failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after uninstall, got %+v", got)
	}
}

func TestGetRuntimeEntry(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	ctx := context.Background()
	if _, err := store.InstallFromCatalog(ctx, srv.URL, "chat", "", "strict", ""); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	entry, err := store.GetRuntimeEntry(ctx, srv.URL, "chat", "strict", "", nil)
	if err != nil {
		t.Fatalf("get runtime entry failed: %v", err)
	}
	if entry.Entry != "index.mjs" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestStorageGetSet(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	ctx := context.Background()

	if err := store.StorageSet(ctx, srv.URL, "chat", "theme", "dark", "strict", ""); err != nil {
		t.Fatalf("storage set failed: %v", err)
	}
	value, ok, err := store.StorageGet(ctx, srv.URL, "chat", "theme", "strict", "")
	if err != nil {
		t.Fatalf("storage get failed: %v", err)
	}
	if !ok || value != "dark" {
		t.Fatalf("unexpected storage value: %v ok=%v", value, ok)
	}

	_, ok, err = store.StorageGet(ctx, srv.URL, "chat", "missing-key", "strict", "")
	if err != nil {
		t.Fatalf("storage get failed: %v", err)
	}
	if ok {
		t.Fatal("expected missing key to report ok=false")
	}
}

func TestNetworkFetchRejectsCrossOrigin(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	if _, err := store.NetworkFetch(context.Background(), srv.URL, "https://evil.example/steal", "GET", nil, "", "strict", ""); err == nil {
		t.Fatal("expected cross-origin fetch to be rejected")
	}
}

func TestNetworkFetchAllowsSameOrigin(t *testing.T) {
	zipBytes := buildPluginZip(t, "chat", "1.0.0")
	srv := newTestServer(t, "srv-1", zipBytes)
	defer srv.Close()

	store := New(t.TempDir(), nil, nil)
	resp, err := store.NetworkFetch(context.Background(), srv.URL, "/api/server", "GET", nil, "", "strict", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK || resp.Status != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
