// Package zipsafe unpacks plugin archives into a destination directory
// with path-containment and forbidden-source-file checks applied before
// any entry touches disk.
package zipsafe

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
)

// Unpack extracts the zip archive in data into destRoot. Every entry name
// is normalized, checked for path-escape segments, and (when the archive
// wraps everything in a single top-level directory) has that directory
// stripped. Regular files containing forbidden front-end source
// extensions are rejected. Files are written atomically via a temp file
// plus rename so a failed unpack never leaves a partial file at its
// final path.
func Unpack(data []byte, destRoot string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid zip archive: %w", err)
	}

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		normalized := normalizeZipName(f.Name)
		if normalized == "" {
			continue
		}
		names = append(names, normalized)
	}
	rootPrefix, hasRoot := detectSingleRootPrefix(names)

	for _, f := range reader.File {
		normalized := normalizeZipName(f.Name)
		if normalized == "" {
			continue
		}
		if !isZipNameSafe(normalized) {
			return fmt.Errorf("%w: %s", apierr.ErrUnsafeZipEntry, normalized)
		}

		finalName := normalized
		if hasRoot {
			finalName = stripRootPrefix(normalized, rootPrefix)
		}
		if finalName == "" {
			continue
		}
		if !isZipNameSafe(finalName) {
			return fmt.Errorf("%w after strip: %s", apierr.ErrUnsafeZipEntry, finalName)
		}

		outPath := filepath.Join(destRoot, filepath.FromSlash(finalName))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return fmt.Errorf("create plugin directory: %w", err)
			}
			continue
		}
		if isForbiddenSourceFile(finalName) {
			return fmt.Errorf("%w: %s", apierr.ErrForbiddenSourceFile, finalName)
		}
		if err := extractFile(f, outPath); err != nil {
			return err
		}
	}
	return nil
}

// UnpackBlocking runs Unpack on its own goroutine and waits for it to
// finish or for ctx to be cancelled. Unpack itself is synchronous stdlib
// I/O, so callers that don't want to stall their own goroutine during a
// large archive extraction should go through this instead of calling
// Unpack directly.
func UnpackBlocking(ctx context.Context, data []byte, destRoot string) error {
	done := make(chan error, 1)
	go func() {
		done <- Unpack(data, destRoot)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func extractFile(f *zip.File, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("prepare plugin entry path: %w", err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open plugin entry: %w", err)
	}
	defer src.Close()

	temp, err := os.CreateTemp(filepath.Dir(outPath), "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create plugin entry temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := io.Copy(temp, src); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write plugin entry: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close plugin entry: %w", err)
	}
	if err := os.Rename(tempPath, outPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("finalize plugin entry: %w", err)
	}
	if mode := f.Mode(); mode != 0 {
		os.Chmod(outPath, mode)
	}
	return nil
}

func normalizeZipName(raw string) string {
	replaced := strings.ReplaceAll(raw, "\\", "/")
	return strings.TrimPrefix(replaced, "/")
}

func isZipNameSafe(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, ":") {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func detectSingleRootPrefix(names []string) (string, bool) {
	prefix := ""
	found := false
	for _, n := range names {
		segs := strings.SplitN(n, "/", 2)
		if len(segs) < 2 {
			return "", false
		}
		if !found {
			prefix = segs[0]
			found = true
			continue
		}
		if prefix != segs[0] {
			return "", false
		}
	}
	return prefix, found
}

func stripRootPrefix(name, prefix string) string {
	if !strings.HasPrefix(name, prefix) {
		return name
	}
	trimmed := strings.TrimPrefix(name, prefix)
	return strings.TrimPrefix(trimmed, "/")
}

func isForbiddenSourceFile(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".d.ts") {
		return false
	}
	for _, suffix := range []string{".vue", ".ts", ".tsx", ".scss", ".sass", ".less"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
