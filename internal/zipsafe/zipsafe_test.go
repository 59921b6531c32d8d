package zipsafe

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestUnpackFlatArchive(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"plugin.json": `{"plugin_id":"chat"}`,
		"index.mjs":   "export default {}",
	})
	if err := Unpack(data, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dest, "plugin.json"))
	if err != nil {
		t.Fatalf("expected plugin.json written: %v", err)
	}
	if string(content) != `{"plugin_id":"chat"}` {
		t.Fatalf("unexpected content: %s", content)
	}
}

func TestUnpackStripsSingleRoot(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"chat-plugin/plugin.json": `{}`,
		"chat-plugin/index.mjs":   "x",
	})
	if err := Unpack(data, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "plugin.json")); err != nil {
		t.Fatalf("expected root prefix stripped: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "chat-plugin")); err == nil {
		t.Fatal("did not expect chat-plugin directory to survive stripping")
	}
}

func TestUnpackRejectsPathEscape(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"../../etc/passwd": "x",
	})
	if err := Unpack(data, dest); err == nil {
		t.Fatal("expected error for path escape")
	}
}

func TestUnpackRejectsForbiddenSourceFile(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"component.vue": "<template></template>",
	})
	if err := Unpack(data, dest); err == nil {
		t.Fatal("expected error for forbidden source file")
	}
}

func TestUnpackAllowsDeclarationFiles(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"types.d.ts": "export {}",
	})
	if err := Unpack(data, dest); err != nil {
		t.Fatalf("did not expect .d.ts to be rejected: %v", err)
	}
}

func TestUnpackBlockingSucceeds(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{"a.txt": "x"})
	if err := UnpackBlocking(context.Background(), data, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "a.txt")); err != nil {
		t.Fatalf("expected a.txt written: %v", err)
	}
}
