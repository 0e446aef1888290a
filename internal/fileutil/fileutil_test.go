package fileutil

import (
	"path/filepath"
	"testing"
)

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://cdn.example.com/a.mp4": true,
		"S3://bucket/key.mp4":           true,
		"gs://bucket/key.mp4":           true,
		"file:///tmp/a.mp4":             false,
		"swing.mp4":                     false,
		"/abs/swing.mp4":                false,
		"":                              false,
	}
	for ref, want := range cases {
		if got := IsRemote(ref); got != want {
			t.Fatalf("IsRemote(%q) = %v, want %v", ref, got, want)
		}
	}
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	if got := ResolveLocal(dir, "clips/../swing.mp4"); got != filepath.Join(dir, "swing.mp4") {
		t.Fatalf("unexpected relative resolution %q", got)
	}
	if got := ResolveLocal(dir, "file:///var/data/a.mp4"); got != "/var/data/a.mp4" {
		t.Fatalf("unexpected file url resolution %q", got)
	}
	if got := ResolveLocal("", "a.mp4"); got != "a.mp4" {
		t.Fatalf("expected untouched relative path, got %q", got)
	}
}

func TestContainedArtifact(t *testing.T) {
	dir := t.TempDir()
	path, ok := ContainedArtifact(dir, "old.mp4")
	if !ok || path != filepath.Join(dir, "old.mp4") {
		t.Fatalf("expected contained path, got %q %v", path, ok)
	}
	for _, ref := range []string{
		"",
		"../escape.mp4",
		filepath.Join(filepath.Dir(dir), "escape.mp4"),
		"https://cdn.example.com/a.mp4",
		".",
	} {
		if got, ok := ContainedArtifact(dir, ref); ok {
			t.Fatalf("ContainedArtifact(%q) should be rejected, got %q", ref, got)
		}
	}
	if _, ok := ContainedArtifact("", "a.mp4"); ok {
		t.Fatal("empty dir must reject everything")
	}
}
