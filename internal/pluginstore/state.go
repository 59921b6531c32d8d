package pluginstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/pluginmanifest"
)

// PluginCurrent records the active version and enablement for an
// installed plugin, persisted as current.json.
type PluginCurrent struct {
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
}

// PluginStateFile records runtime health, persisted as state.json.
type PluginStateFile struct {
	Status    string `json:"status"` // "ok" | "failed"
	LastError string `json:"last_error"`
}

// InstalledPluginState is the aggregate view returned to callers after
// any lifecycle operation.
type InstalledPluginState struct {
	PluginID          string   `json:"plugin_id"`
	InstalledVersions []string `json:"installed_versions"`
	CurrentVersion    *string  `json:"current_version"`
	Enabled           bool     `json:"enabled"`
	Status            string   `json:"status"`
	LastError         string   `json:"last_error"`
}

// PluginRuntimeEntry is the information an embedder needs to load a
// plugin's entry point.
type PluginRuntimeEntry struct {
	ServerID       string                         `json:"server_id"`
	PluginID       string                         `json:"plugin_id"`
	Version        string                         `json:"version"`
	Entry          string                         `json:"entry"`
	MinHostVersion string                         `json:"min_host_version"`
	Permissions    []string                       `json:"permissions"`
	ProvidesDomain []pluginmanifest.ProvidesDomain `json:"provides_domains"`
}

func readJSONFile[T any](path string) (*T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &v, nil
}

func writeJSONFile(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) listInstalledVersions(serverID, pluginID string) ([]string, error) {
	root, err := s.pluginRootDir(serverID, pluginID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "" {
			continue
		}
		versions = append(versions, name)
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *Store) readCurrent(serverID, pluginID string) (*PluginCurrent, error) {
	path, err := s.currentFilePath(serverID, pluginID)
	if err != nil {
		return nil, err
	}
	return readJSONFile[PluginCurrent](path)
}

func (s *Store) writeCurrent(serverID, pluginID string, current PluginCurrent) error {
	path, err := s.currentFilePath(serverID, pluginID)
	if err != nil {
		return err
	}
	return writeJSONFile(path, current)
}

func (s *Store) readStateFile(serverID, pluginID string) (PluginStateFile, error) {
	path, err := s.stateFilePath(serverID, pluginID)
	if err != nil {
		return PluginStateFile{}, err
	}
	existing, err := readJSONFile[PluginStateFile](path)
	if err != nil {
		return PluginStateFile{}, err
	}
	if existing == nil {
		return PluginStateFile{Status: "ok", LastError: ""}, nil
	}
	return *existing, nil
}

func (s *Store) writeStateFile(serverID, pluginID string, st PluginStateFile) error {
	path, err := s.stateFilePath(serverID, pluginID)
	if err != nil {
		return err
	}
	return writeJSONFile(path, st)
}

func (s *Store) buildInstalledState(serverID, pluginID string) (*InstalledPluginState, error) {
	versions, err := s.listInstalledVersions(serverID, pluginID)
	if err != nil {
		return nil, err
	}
	current, err := s.readCurrent(serverID, pluginID)
	if err != nil {
		return nil, err
	}
	state, err := s.readStateFile(serverID, pluginID)
	if err != nil {
		return nil, err
	}

	var currentVersion *string
	enabled := false
	if current != nil {
		v := current.Version
		currentVersion = &v
		enabled = current.Enabled
	}

	return &InstalledPluginState{
		PluginID:          pluginID,
		InstalledVersions: versions,
		CurrentVersion:    currentVersion,
		Enabled:           enabled,
		Status:            state.Status,
		LastError:         state.LastError,
	}, nil
}
