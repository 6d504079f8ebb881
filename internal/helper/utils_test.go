package helper

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStableID_Deterministic(t *testing.T) {
	a := StableID("doc.pdf#2@40")
	b := StableID("doc.pdf#2@40")
	c := StableID("doc.pdf#2@41")
	if a != b {
		t.Fatalf("expected identical IDs, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different IDs for different keys")
	}
}

func TestGenerateUUID_Unique(t *testing.T) {
	a, err := GenerateUUID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := GenerateUUID()
	if a == b {
		t.Fatalf("expected random UUIDs to differ")
	}
}

func TestCreateFolder_Nested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := CreateFolder(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", dir)
	}
}
