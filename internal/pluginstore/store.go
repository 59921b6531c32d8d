package pluginstore

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/eventsink"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/pluginmanifest"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/serverapi"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/tlspolicy"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/zipsafe"
)

// Store manages locally installed plugins under BaseDir, partitioned
// per server_id. Every public operation that takes a server socket
// re-derives server_id from it via /api/server rather than trusting a
// caller-supplied server_id; ResolveAppPluginsPath is the exception and
// takes server_id as a path segment.
type Store struct {
	BaseDir string
	Logger  *log.Logger
	Sink    eventsink.Sink

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a Store rooted at baseDir. logger and sink may be nil; a
// default stderr logger and a LogSink wrapping it are installed.
func New(baseDir string, logger *log.Logger, sink eventsink.Sink) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if sink == nil {
		sink = eventsink.NewLogSink(logger)
	}
	return &Store{BaseDir: baseDir, Logger: logger, Sink: sink, locks: make(map[string]*sync.Mutex)}
}

// installLock returns the per-(server_id, plugin_id) mutex, creating it
// on first use. Every install/uninstall mutating operation serializes
// through this lock so a concurrent catalog-install and url-install for
// the same plugin can't interleave their directory writes.
func (s *Store) installLock(serverID, pluginID string) *sync.Mutex {
	key := serverID + "\x00" + pluginID
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// resolved bundles the per-call context every operation needs: the HTTP
// origin, a trust-policy-aware client, and the server's identity.
type resolved struct {
	origin   string
	client   *serverapi.Client
	serverID string
}

func (s *Store) resolve(ctx context.Context, serverSocket, tlsPolicyToken, tlsFingerprint string) (*resolved, error) {
	origin, err := serverapi.ToHTTPOrigin(serverSocket)
	if err != nil {
		return nil, err
	}
	httpClient, err := tlspolicy.BuildClient(ctx, origin, tlspolicy.Parse(tlsPolicyToken), tlsFingerprint)
	if err != nil {
		return nil, err
	}
	client := serverapi.NewClient(origin, httpClient)
	serverID, err := client.FetchServerID(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeAPIRequestFailed, err)
	}
	return &resolved{origin: origin, client: client, serverID: serverID}, nil
}

// ListCatalog returns the plugins a server currently advertises,
// without installing anything.
func (s *Store) ListCatalog(ctx context.Context, serverSocket, tlsPolicyToken, tlsFingerprint string) ([]serverapi.CatalogItem, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, err
	}
	catalog, err := r.client.FetchCatalog(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeAPIRequestFailed, err)
	}
	return catalog, nil
}

// ListInstalled enumerates every plugin this client has installed for
// the resolved server.
func (s *Store) ListInstalled(ctx context.Context, serverSocket, tlsPolicyToken, tlsFingerprint string) ([]*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, err
	}
	base, err := safeJoin(s.BaseDir, r.serverID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return []*InstalledPluginState{}, nil
		}
		return nil, err
	}
	out := make([]*InstalledPluginState, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.TrimSpace(e.Name()) == "" {
			continue
		}
		state, err := s.buildInstalledState(r.serverID, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// GetInstalled returns the installed state for one plugin, or nil if it
// has never been installed for this server.
func (s *Store) GetInstalled(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, err
	}
	root, err := s.pluginRootDir(r.serverID, pluginID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// InstallFromCatalog resolves pluginID against the server's catalog,
// optionally pinning to expectedVersion, downloads the artifact
// (same-origin downloads reuse the trust-policy client; cross-origin
// downloads use a plain client, so a relaxed TLS policy never extends
// to an arbitrary third-party host), verifies its sha256 against the
// catalog entry, unpacks it, and verifies the resulting manifest
// matches the request before recording it as installed.
func (s *Store) InstallFromCatalog(ctx context.Context, serverSocket, pluginID, expectedVersion, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed, err)
	}

	lock := s.installLock(r.serverID, pluginID)
	lock.Lock()
	defer lock.Unlock()

	catalog, err := r.client.FetchCatalog(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed, err)
	}

	var target *serverapi.CatalogItem
	for i := range catalog {
		if catalog[i].PluginID == pluginID {
			target = &catalog[i]
			break
		}
	}
	if target == nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed, apierr.ErrNotInCatalog)
	}
	if want := strings.TrimSpace(expectedVersion); want != "" && want != strings.TrimSpace(target.Version) {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed,
			fmt.Errorf("%w: expected %s, catalog %s", apierr.ErrVersionMismatch, want, target.Version))
	}
	if target.Download == nil || strings.TrimSpace(target.Download.URL) == "" || strings.TrimSpace(target.Download.Sha256) == "" {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed, apierr.ErrInvalidDownloadInfo)
	}

	downloadURL := target.Download.URL
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = strings.TrimRight(r.origin, "/") + "/" + strings.TrimPrefix(downloadURL, "/")
	}

	version := strings.TrimSpace(target.Version)
	state, err := s.downloadVerifyAndUnpack(ctx, r, pluginID, version, downloadURL, target.Download.Sha256)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromCatalogFailed, err)
	}
	return state, nil
}

// InstallFromURL installs a specific version from a caller-supplied
// download URL and expected sha256, bypassing the catalog entirely.
func (s *Store) InstallFromURL(ctx context.Context, serverSocket, pluginID, version, downloadURL, sha256Expected, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, err)
	}

	pluginID = strings.TrimSpace(pluginID)
	version = strings.TrimSpace(version)
	downloadURL = strings.TrimSpace(downloadURL)
	sha256Expected = strings.TrimSpace(sha256Expected)
	if pluginID == "" {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, fmt.Errorf("missing plugin_id"))
	}
	if version == "" {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, fmt.Errorf("missing version"))
	}
	if downloadURL == "" {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, fmt.Errorf("missing download url"))
	}
	if sha256Expected == "" {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, fmt.Errorf("missing sha256"))
	}

	lock := s.installLock(r.serverID, pluginID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.downloadVerifyAndUnpack(ctx, r, pluginID, version, downloadURL, sha256Expected)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInstallFromURLFailed, err)
	}
	return state, nil
}

func isSameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Hostname() == b.Hostname() && a.Port() == b.Port()
}

func (s *Store) downloadVerifyAndUnpack(ctx context.Context, r *resolved, pluginID, version, downloadURL, sha256Expected string) (*InstalledPluginState, error) {
	base, err := url.Parse(r.origin)
	if err != nil {
		return nil, fmt.Errorf("invalid server origin: %w", err)
	}
	target, err := url.Parse(downloadURL)
	if err != nil {
		return nil, fmt.Errorf("invalid download url: %w", err)
	}

	httpClient := r.client.HTTP
	if !isSameOrigin(target, base) {
		httpClient = &defaultHTTPClient
	}

	data, err := fetchBytes(ctx, httpClient, downloadURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download plugin zip: %w", err)
	}

	if !sha256HexEqual(data, sha256Expected) {
		return nil, fmt.Errorf("%w for %s", apierr.ErrSha256Mismatch, pluginID)
	}

	versionDir, err := s.pluginVersionDir(r.serverID, pluginID, version)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", versionDir, err)
	}

	if err := zipsafe.UnpackBlocking(ctx, data, versionDir); err != nil {
		return nil, err
	}

	manifestPath, err := s.manifestFilePath(r.serverID, pluginID, version)
	if err != nil {
		return nil, err
	}
	m, err := readJSONFile[pluginmanifest.Manifest](manifestPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("missing plugin.json at %s", manifestPath)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.PluginID != pluginID || m.Version != version {
		return nil, fmt.Errorf("%w: expected %s@%s, got %s@%s", apierr.ErrManifestMismatch, pluginID, version, m.PluginID, m.Version)
	}

	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		if err := s.writeCurrent(r.serverID, pluginID, PluginCurrent{Version: version, Enabled: false}); err != nil {
			return nil, err
		}
	}
	if err := s.writeStateFile(r.serverID, pluginID, PluginStateFile{Status: "ok"}); err != nil {
		return nil, err
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// Enable marks a plugin's current version active after confirming its
// manifest and entry file actually exist on disk. A missing entry is
// recorded as a failed state rather than silently left enabled.
func (s *Store) Enable(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	if current == nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, apierr.ErrNotInstalled)
	}

	manifestPath, err := s.manifestFilePath(r.serverID, pluginID, current.Version)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	m, err := readJSONFile[pluginmanifest.Manifest](manifestPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	if m == nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, fmt.Errorf("missing plugin.json: %s", manifestPath))
	}

	versionDir, err := s.pluginVersionDir(r.serverID, pluginID, current.Version)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	entryPath := filepath.Join(versionDir, strings.TrimSpace(m.Entry))
	if _, err := os.Stat(entryPath); err != nil {
		msg := fmt.Sprintf("Missing plugin entry: %s", m.Entry)
		_ = s.writeStateFile(r.serverID, pluginID, PluginStateFile{Status: "failed", LastError: msg})
		return nil, apierr.Wrap(apierr.CodeEnableFailed, fmt.Errorf("%w: %s", apierr.ErrMissingEntry, m.Entry))
	}

	current.Enabled = true
	if err := s.writeCurrent(r.serverID, pluginID, *current); err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	if err := s.writeStateFile(r.serverID, pluginID, PluginStateFile{Status: "ok"}); err != nil {
		return nil, apierr.Wrap(apierr.CodeEnableFailed, err)
	}
	s.Sink.Emit("plugin_enabled", map[string]any{"plugin_id": pluginID, "version": current.Version})
	return s.buildInstalledState(r.serverID, pluginID)
}

// Disable marks a plugin's current version inactive without touching
// its health state.
func (s *Store) Disable(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDisableFailed, err)
	}
	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDisableFailed, err)
	}
	if current == nil {
		return nil, apierr.Wrap(apierr.CodeDisableFailed, apierr.ErrNotInstalled)
	}
	current.Enabled = false
	if err := s.writeCurrent(r.serverID, pluginID, *current); err != nil {
		return nil, apierr.Wrap(apierr.CodeDisableFailed, err)
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// SwitchVersion repoints current.json at an already-installed version.
func (s *Store) SwitchVersion(ctx context.Context, serverSocket, pluginID, version, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, err)
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, fmt.Errorf("missing version"))
	}
	versionDir, err := s.pluginVersionDir(r.serverID, pluginID, version)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, err)
	}
	if _, err := os.Stat(versionDir); err != nil {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, fmt.Errorf("%w: %s", apierr.ErrVersionNotInstalled, version))
	}

	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, err)
	}
	if current == nil {
		current = &PluginCurrent{Version: version, Enabled: false}
	} else {
		current.Version = version
	}
	if err := s.writeCurrent(r.serverID, pluginID, *current); err != nil {
		return nil, apierr.Wrap(apierr.CodeSwitchVersionFailed, err)
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// Uninstall removes every installed version of a plugin for a server.
func (s *Store) Uninstall(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string) error {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	lock := s.installLock(r.serverID, pluginID)
	lock.Lock()
	defer lock.Unlock()

	root, err := s.pluginRootDir(r.serverID, pluginID)
	if err != nil {
		return apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	if err := os.RemoveAll(root); err != nil {
		return apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	return nil
}

// UninstallVersion removes a single installed version's directory
// without disturbing other installed versions. If the removed version
// was the current one, the current.json selection is left untouched —
// callers should follow up with SwitchVersion or Uninstall if no
// installed version remains.
func (s *Store) UninstallVersion(ctx context.Context, serverSocket, pluginID, version, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	lock := s.installLock(r.serverID, pluginID)
	lock.Lock()
	defer lock.Unlock()

	versionDir, err := s.pluginVersionDir(r.serverID, pluginID, version)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	if err := os.RemoveAll(versionDir); err != nil {
		return nil, apierr.Wrap(apierr.CodeUninstallFailed, err)
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// SetFailed records a failure reason against a plugin and disables it.
func (s *Store) SetFailed(ctx context.Context, serverSocket, pluginID, message, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	if current == nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, apierr.ErrNotInstalled)
	}
	current.Enabled = false
	if err := s.writeCurrent(r.serverID, pluginID, *current); err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	if err := s.writeStateFile(r.serverID, pluginID, PluginStateFile{Status: "failed", LastError: strings.TrimSpace(message)}); err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	return s.buildInstalledState(r.serverID, pluginID)
}

// ClearError resets a plugin's health state to ok.
func (s *Store) ClearError(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string) (*InstalledPluginState, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	if err := s.writeStateFile(r.serverID, pluginID, PluginStateFile{Status: "ok"}); err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageFailed, err)
	}
	return s.buildInstalledState(r.serverID, pluginID)
}
