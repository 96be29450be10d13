package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	if err := AtomicWriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}
	if err := AtomicWriteFile(path, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile overwrite: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("content = %q, want overwritten value", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestBackupFileNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedback.json")

	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	b1, err := BackupFile(path, ".backup")
	if err != nil {
		t.Fatalf("BackupFile: %v", err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	b2, err := BackupFile(path, ".backup")
	if err != nil {
		t.Fatalf("BackupFile second: %v", err)
	}

	if b1 == b2 {
		t.Fatalf("second backup reused name %s", b1)
	}
	first, _ := os.ReadFile(b1)
	second, _ := os.ReadFile(b2)
	if string(first) != "first" || string(second) != "second" {
		t.Errorf("backups = (%q, %q), want (first, second)", first, second)
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := MoveFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst")); err == nil {
		t.Error("expected error moving a missing file")
	}
}
