package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.not_authenticated", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Not authenticated" {
		t.Fatalf("got %q", got)
	}
	got, err = c.Render("errors.illegal_move", map[string]any{"Move": "e2e5"})
	if err != nil || got != "Illegal move: e2e5" {
		t.Fatalf("illegal_move: %q, %v", got, err)
	}
}

func TestRenderMissing(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("errors.nope", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := c.Render("errors.unknown_type", map[string]any{}); err == nil {
		t.Fatalf("expected error for missing template field")
	}
	if got := c.Text("errors.nope", nil, "fallback"); got != "fallback" {
		t.Fatalf("Text fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_your_turn: \"Wait for your opponent\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("errors.not_your_turn", nil, ""); got != "Wait for your opponent" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("errors.match_full", nil, ""); got != "Match is full" {
		t.Fatalf("default lost: %q", got)
	}
}

func TestOverrideDirDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("errors:\n  match_full: \"x\"\n")
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), body, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
