package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBundle(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, BundleFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func allToolsExist(string) bool { return true }

func TestLoaderReloadDiscoversBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "weather", "---\nname: weather\ndescription: reports weather\ntriggers:\n  - weather\n---\nbody")

	l := NewLoader(dir, allToolsExist, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	b, ok := l.ByName("weather")
	if !ok {
		t.Fatal("expected weather bundle to be loaded")
	}
	if b.Description != "reports weather" {
		t.Fatalf("unexpected description: %q", b.Description)
	}
}

func TestLoaderMatchTrigger(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "weather", "---\nname: weather\ndescription: x\ntriggers:\n  - weather\n---\nbody")

	l := NewLoader(dir, allToolsExist, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	b, ok := l.MatchTrigger("what's the weather today")
	if !ok || b.Name != "weather" {
		t.Fatalf("expected weather bundle to match, got %v %v", b, ok)
	}

	if _, ok := l.MatchTrigger("completely unrelated message"); ok {
		t.Fatal("expected no match for unrelated message")
	}
}

func TestLoaderRejectsBundleWithUnknownTool(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "broken", "---\nname: broken\ndescription: x\ntools:\n  - does_not_exist\n---\nbody")

	l := NewLoader(dir, func(string) bool { return false }, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if _, ok := l.ByName("broken"); ok {
		t.Fatal("expected bundle with unknown tool to be rejected")
	}
}

func TestLoaderKeepsPreviousValidBundleOnBadReload(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "weather", "---\nname: weather\ndescription: good version\n---\nbody")

	l := NewLoader(dir, allToolsExist, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	writeBundle(t, dir, "weather", "---\nname: weather\n---\nbroken: no description")
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	b, ok := l.ByName("weather")
	if !ok {
		t.Fatal("expected previous valid bundle to survive a bad reload")
	}
	if b.Description != "good version" {
		t.Fatalf("expected previous version retained, got %q", b.Description)
	}
}

func TestLoaderRejectsDuplicateNameKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a-weather", "---\nname: weather\ndescription: first\n---\nbody")
	writeBundle(t, dir, "b-weather", "---\nname: weather\ndescription: second\n---\nbody")

	l := NewLoader(dir, allToolsExist, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	b, ok := l.ByName("weather")
	if !ok {
		t.Fatal("expected one weather bundle to be loaded")
	}
	if b.Description != "first" {
		t.Fatalf("expected directory-order-first bundle kept, got %q", b.Description)
	}
}

func TestLoaderMissingDirectoryIsNotAnError(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"), allToolsExist, nil)
	if err := l.Reload(); err != nil {
		t.Fatalf("expected missing directory to be a no-op, got %v", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot for missing directory")
	}
}
