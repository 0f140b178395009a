// Package security handles the on-disk side of evidence artifacts:
// atomic writes, owner-only default permissions, and bounded reads.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default permissions for written artifacts and their parent
// directories.
const (
	PermOwnerFile os.FileMode = 0o600
	PermOwnerDir  os.FileMode = 0o700
)

var (
	ErrInvalidPath  = errors.New("security: invalid path")
	ErrAtomicWrite  = errors.New("security: atomic write failed")
	ErrFileTooLarge = errors.New("security: file exceeds size limit")
)

// CheckPath rejects paths no artifact can have and returns the
// cleaned absolute form.
func CheckPath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("%w: null byte", ErrInvalidPath)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return abs, nil
}

// FileWriter writes a file atomically. Data goes to a temporary file
// in the target directory and lands under the final name only on
// Commit, so a crash mid-write never leaves a partial artifact.
type FileWriter struct {
	path string
	tmp  *os.File
}

// NewFileWriter prepares an atomic write to path, creating parent
// directories owner-only as needed.
func NewFileWriter(path string, perm os.FileMode) (*FileWriter, error) {
	abs, err := CheckPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), PermOwnerDir); err != nil {
		return nil, fmt.Errorf("security: create directory: %w", err)
	}
	tmp, err := os.OpenFile(abs+".tmp."+randomSuffix(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAtomicWrite, err)
	}
	return &FileWriter{path: abs, tmp: tmp}, nil
}

// Write appends to the temporary file.
func (w *FileWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Commit syncs the temporary file and renames it over the target. On
// any failure the temporary file is removed and the target is left
// untouched.
func (w *FileWriter) Commit() error {
	if err := w.tmp.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("%w: sync: %v", ErrAtomicWrite, err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("%w: close: %v", ErrAtomicWrite, err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("%w: %v", ErrAtomicWrite, err)
	}
	return nil
}

// Abort drops the temporary file without touching the target.
func (w *FileWriter) Abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteSecureFile writes data to path atomically with the given
// permissions.
func WriteSecureFile(path string, data []byte, perm os.FileMode) error {
	w, err := NewFileWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// ReadSecureFile reads path, refusing files larger than maxSize
// (maxSize <= 0 means unbounded). Permissions are not checked on
// read: exported bundles arrive from other parties with whatever mode
// their transport left them.
func ReadSecureFile(path string, maxSize int64) ([]byte, error) {
	abs, err := CheckPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), maxSize)
	}
	return os.ReadFile(abs)
}
