// Package ledger persists receipts as an append-only JSONL file.
//
// The ledger is a local convenience copy of the receipt stream, not
// the system of record. One process owns the file at a time: Open
// takes an exclusive lock and a second opener gets ErrLocked.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"fiscalproof/internal/receipt"
)

// DefaultPath is the ledger file used when no path is configured.
const DefaultPath = "receipts.jsonl"

// MaxLineBytes bounds a single receipt line when loading.
const MaxLineBytes = 1 << 20

const (
	permFile os.FileMode = 0600
	permDir  os.FileMode = 0700
)

// Ledger errors
var (
	ErrLocked = errors.New("ledger: file locked by another process")
	ErrClosed = errors.New("ledger: closed")
)

// Ledger appends receipt lines to a locked JSONL file. Safe for
// concurrent use.
type Ledger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens the ledger file at path for appending, creating it and
// its directory if needed, and takes an exclusive lock. An empty path
// means DefaultPath.
func Open(path string) (*Ledger, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, permDir); err != nil {
			return nil, fmt.Errorf("ledger: create directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, permFile)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("ledger: lock %s: %w", path, err)
	}
	return &Ledger{f: f, path: path}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append writes one receipt line to the ledger. The newline is added
// here; line must not contain one.
func (l *Ledger) Append(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := l.f.Write(buf); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// AppendReceipt encodes r canonically and appends it.
func (l *Ledger) AppendReceipt(r receipt.Receipt) error {
	line, err := r.Canonical()
	if err != nil {
		return err
	}
	return l.Append(line)
}

// Sync flushes appended lines to stable storage.
func (l *Ledger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	return nil
}

// Close releases the lock and closes the file. Closing twice is a
// no-op.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return fmt.Errorf("ledger: unlock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("ledger: close: %w", closeErr)
	}
	return nil
}

// Load reads every receipt from the JSONL file at path. A missing
// file surfaces as an error wrapping os.ErrNotExist.
func Load(path string) ([]receipt.Receipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes receipts from r, one JSON object per line. Blank lines
// are skipped; parse failures carry the 1-based line number.
func Read(r io.Reader) ([]receipt.Receipt, error) {
	var receipts []receipt.Receipt
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec receipt.Receipt
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("ledger: line %d: %w", lineNo, err)
		}
		receipts = append(receipts, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}
	return receipts, nil
}
