// Package pluginstore implements the client-local plugin install/enable/
// uninstall lifecycle: catalog-driven and URL-driven installs, sha256
// trust verification, zip extraction, and the current.json/state.json/
// storage.json persistence that backs it.
package pluginstore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
)

func sanitizeSegment(seg string) (string, error) {
	s := strings.TrimSpace(seg)
	if s == "" {
		return "", fmt.Errorf("%w: empty segment", apierr.ErrInvalidPathSegment)
	}
	if s == "." || s == ".." || strings.ContainsAny(s, `\/`) {
		return "", fmt.Errorf("%w: %s", apierr.ErrInvalidPathSegment, s)
	}
	if strings.Contains(s, ":") {
		return "", fmt.Errorf("%w (contains ':'): %s", apierr.ErrInvalidPathSegment, s)
	}
	return s, nil
}

func safeJoin(root string, segments ...string) (string, error) {
	p := root
	for _, seg := range segments {
		clean, err := sanitizeSegment(seg)
		if err != nil {
			return "", err
		}
		p = filepath.Join(p, clean)
	}
	return p, nil
}

// pluginRootDir returns {base}/{serverID}/{pluginID}.
func (s *Store) pluginRootDir(serverID, pluginID string) (string, error) {
	return safeJoin(s.BaseDir, serverID, pluginID)
}

// pluginVersionDir returns {base}/{serverID}/{pluginID}/{version}.
func (s *Store) pluginVersionDir(serverID, pluginID, version string) (string, error) {
	return safeJoin(s.BaseDir, serverID, pluginID, version)
}

func (s *Store) currentFilePath(serverID, pluginID string) (string, error) {
	root, err := s.pluginRootDir(serverID, pluginID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "current.json"), nil
}

func (s *Store) stateFilePath(serverID, pluginID string) (string, error) {
	root, err := s.pluginRootDir(serverID, pluginID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "state.json"), nil
}

func (s *Store) manifestFilePath(serverID, pluginID, version string) (string, error) {
	dir, err := s.pluginVersionDir(serverID, pluginID, version)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugin.json"), nil
}

func (s *Store) storageFilePath(serverID, pluginID string) (string, error) {
	root, err := s.pluginRootDir(serverID, pluginID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "storage.json"), nil
}

// ResolveAppPluginsPath resolves the local file path that the app://
// custom URI scheme's {server_id}/{plugin_id}/{version}/{rel_path}
// segments refer to. The returned path always lies under BaseDir;
// callers are responsible for inferring Content-Type.
func (s *Store) ResolveAppPluginsPath(serverID, pluginID, version, relPath string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimSpace(relPath), "/")
	if rel == "" {
		return "", fmt.Errorf("missing relative path")
	}
	if strings.Contains(rel, `\`) {
		return "", fmt.Errorf("invalid relative path (contains backslash)")
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w in relative path", apierr.ErrInvalidPathSegment)
		}
	}
	root, err := safeJoin(s.BaseDir, serverID, pluginID, version)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}
