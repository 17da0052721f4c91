package image

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cal.bin")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBackup(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	path := writeFile(t, data)

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got, err := backupAt(path, now)
	if err != nil {
		t.Fatalf("backupAt() error = %v", err)
	}
	if want := path + ".backup_20240309_140507"; got != want {
		t.Errorf("backupAt() = %q, want %q", got, want)
	}
	copied, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, copied); diff != "" {
		t.Errorf("backup contents mismatch (-want +got):\n%s", diff)
	}

	if _, err := Backup(filepath.Join(t.TempDir(), "missing.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Backup() error = %v, want not exist", err)
	}
}

func TestPatchWord(t *testing.T) {
	path := writeFile(t, []byte{0, 0, 0, 0, 0x11, 0x22, 0x33, 0x44, 0xAA})

	old, err := PatchWord(path, 4, 0xDEADBEEF)
	if err != nil {
		t.Fatalf("PatchWord() error = %v", err)
	}
	if old != 0x11223344 {
		t.Errorf("PatchWord() old = 0x%08X, want 0x11223344", old)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF, 0xAA}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}

	v, err := ReadWord(path, 4)
	if err != nil || v != 0xDEADBEEF {
		t.Errorf("ReadWord() = 0x%08X, %v", v, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWordOffsetChecks(t *testing.T) {
	path := writeFile(t, make([]byte, 10))
	for _, off := range []uint32{2, 8, 12, 0xFFFFFFFC} {
		if _, err := PatchWord(path, off, 1); !errors.Is(err, ErrOffset) {
			t.Errorf("PatchWord(0x%X) error = %v, want ErrOffset", off, err)
		}
		if _, err := ReadWord(path, off); !errors.Is(err, ErrOffset) {
			t.Errorf("ReadWord(0x%X) error = %v, want ErrOffset", off, err)
		}
	}
}
