package cursor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))

	token, err := f.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	f := NewFile(path)

	if err := f.Save("s12345_67890"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	token, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if token != "s12345_67890" {
		t.Errorf("expected s12345_67890, got %q", token)
	}
}

func TestSaveOverwrites(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))

	if err := f.Save("old"); err != nil {
		t.Fatal(err)
	}
	if err := f.Save("new"); err != nil {
		t.Fatal(err)
	}

	token, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if token != "new" {
		t.Errorf("expected new, got %q", token)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "state.json"))

	if err := f.Save("tok"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".cursor-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFile(path).Load(); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}
