// Package image edits calibration image files in place.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BackupTimeFormat is appended to backup file names.
const BackupTimeFormat = "20060102_150405"

// ErrOffset is returned for word offsets that are unaligned or past the end
// of the image.
var ErrOffset = errors.New("invalid word offset")

// Backup copies filename next to itself with a timestamp suffix and returns
// the backup path.
func Backup(filename string) (string, error) {
	return backupAt(filename, time.Now())
}

func backupAt(filename string, now time.Time) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	backupName := filename + ".backup_" + now.Format(BackupTimeFormat)
	if err := os.WriteFile(backupName, data, 0644); err != nil {
		return "", err
	}
	return backupName, nil
}

func checkOffset(size int, offset uint32) error {
	if offset%4 != 0 {
		return fmt.Errorf("%w: 0x%X not word aligned", ErrOffset, offset)
	}
	if uint64(offset)+4 > uint64(size) {
		return fmt.Errorf("%w: 0x%X past %d byte image", ErrOffset, offset, size)
	}
	return nil
}

// ReadWord returns the big-endian word at offset.
func ReadWord(filename string, offset uint32) (uint32, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	if err := checkOffset(len(data), offset); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data[offset:]), nil
}

// PatchWord stores value as a big-endian word at offset and returns the
// previous value. The file is replaced atomically so a running monitor
// never reads a half-written image.
func PatchWord(filename string, offset, value uint32) (uint32, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	if err := checkOffset(len(data), offset); err != nil {
		return 0, err
	}
	old := binary.BigEndian.Uint32(data[offset:])
	binary.BigEndian.PutUint32(data[offset:], value)
	if err := Replace(filename, data); err != nil {
		return 0, err
	}
	return old, nil
}

// Replace writes data to a temporary file in the same directory and renames
// it over filename, keeping the original permissions.
func Replace(filename string, data []byte) error {
	mode := os.FileMode(0644)
	if fi, err := os.Stat(filename); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}
