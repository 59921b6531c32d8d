package pluginstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/pluginmanifest"
)

// GetRuntimeEntry resolves the currently-selected version's manifest
// into a PluginRuntimeEntry. If facts is non-nil, the manifest's
// min_host_version is additionally checked against facts.HostVersion
// (SPEC_FULL.md §3 supplement; skipped entirely when facts is nil).
func (s *Store) GetRuntimeEntry(ctx context.Context, serverSocket, pluginID, tlsPolicyToken, tlsFingerprint string, facts *pluginmanifest.RuntimeFacts) (*PluginRuntimeEntry, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, err
	}
	current, err := s.readCurrent(r.serverID, pluginID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", apierr.ErrNotInstalled, pluginID)
	}
	return s.runtimeEntryForVersion(r.serverID, pluginID, current.Version, facts)
}

// GetRuntimeEntryForVersion resolves a specific installed version's
// manifest into a PluginRuntimeEntry, bypassing current.json.
func (s *Store) GetRuntimeEntryForVersion(ctx context.Context, serverSocket, pluginID, version, tlsPolicyToken, tlsFingerprint string, facts *pluginmanifest.RuntimeFacts) (*PluginRuntimeEntry, error) {
	r, err := s.resolve(ctx, serverSocket, tlsPolicyToken, tlsFingerprint)
	if err != nil {
		return nil, err
	}
	v := strings.TrimSpace(version)
	if v == "" {
		return nil, fmt.Errorf("missing version")
	}
	return s.runtimeEntryForVersion(r.serverID, pluginID, v, facts)
}

func (s *Store) runtimeEntryForVersion(serverID, pluginID, version string, facts *pluginmanifest.RuntimeFacts) (*PluginRuntimeEntry, error) {
	manifestPath, err := s.manifestFilePath(serverID, pluginID, version)
	if err != nil {
		return nil, err
	}
	m, err := readJSONFile[pluginmanifest.Manifest](manifestPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("failed to read manifest: %s", manifestPath)
	}
	entry := strings.TrimSpace(m.Entry)
	if entry == "" {
		return nil, apierr.ErrMissingEntry
	}
	if err := pluginmanifest.CheckCompatibility(*m, facts); err != nil {
		return nil, err
	}
	m.Normalize()
	return &PluginRuntimeEntry{
		ServerID:       serverID,
		PluginID:       pluginID,
		Version:        version,
		Entry:          entry,
		MinHostVersion: strings.TrimSpace(m.MinHostVersion),
		Permissions:    m.Permissions,
		ProvidesDomain: m.ProvidesDomain,
	}, nil
}
