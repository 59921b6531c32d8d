package pluginmanifest

import (
	"strings"
	"testing"
)

func validManifest() Manifest {
	return Manifest{
		PluginID:       "chat",
		Name:           "Chat",
		Version:        "1.0.0",
		MinHostVersion: "1.0.0",
		Entry:          "index.mjs",
	}
}

func TestValidateRequiresFields(t *testing.T) {
	m := Manifest{}
	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty manifest")
	}
	for _, want := range []string{"plugin_id", "name", "version", "min_host_version", "entry"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %q", want, err.Error())
		}
	}
}

func TestValidateOK(t *testing.T) {
	m := validManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateFiltersEmptyPermissions(t *testing.T) {
	m := validManifest()
	m.Permissions = []string{"read", "", "  ", "write"}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Permissions) != 2 {
		t.Fatalf("expected 2 permissions after filtering, got %v", m.Permissions)
	}
}

func TestValidateFiltersEmptyDomains(t *testing.T) {
	m := validManifest()
	m.ProvidesDomain = []ProvidesDomain{{Domain: ""}, {Domain: "chat", DomainVersion: "1"}}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.ProvidesDomain) != 1 || m.ProvidesDomain[0].Domain != "chat" {
		t.Fatalf("expected single chat domain, got %v", m.ProvidesDomain)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	m := validManifest()
	m.Dependencies = []string{"chat"}
	if err := m.Validate(); err == nil || !strings.Contains(err.Error(), "cannot depend on itself") {
		t.Fatalf("expected self-dependency error, got %v", err)
	}
}

func TestValidateRejectsDuplicateDependency(t *testing.T) {
	m := validManifest()
	m.Dependencies = []string{"a", "a"}
	if err := m.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate dependency") {
		t.Fatalf("expected duplicate-dependency error, got %v", err)
	}
}

func TestNormalizeSanitizesCategories(t *testing.T) {
	m := validManifest()
	m.Categories = []string{"Chat", " chat ", "Utility"}
	m.Normalize()
	if len(m.Categories) != 2 {
		t.Fatalf("expected categories deduped to 2, got %v", m.Categories)
	}
	if m.Categories[0] != "chat" || m.Categories[1] != "utility" {
		t.Fatalf("expected sorted lowercase categories, got %v", m.Categories)
	}
}
