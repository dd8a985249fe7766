// Package randomness implements the durable single-slot randomness buffer
// (spec.md §4.2): a dedicated collector writes fresh 64-byte blobs to a
// slot file atomically, and the assembler consumes them destructively,
// mixing in any configured auxiliary sources.
package randomness

import (
	"fmt"
	"os"
	"path/filepath"
)

const blobLen = 64

const (
	slotDataFile  = "slot.bin"
	slotMarkFile  = "slot.mark"
	markFresh     = "fresh"
	markConsumed  = "consumed"
)

// Buffer is a durable, single-slot queue living under dir. At most one
// blob is ever held; a write overwrites a stale or absent blob, and a read
// both returns and deletes it (marking the slot consumed).
type Buffer struct {
	dir string
}

// NewBuffer opens (creating if necessary) a Buffer rooted at dir.
func NewBuffer(dir string) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("randomness: create buffer dir: %w", err)
	}
	return &Buffer{dir: dir}, nil
}

// Write atomically stores blob as the fresh slot contents, via a temp-file
// write followed by rename, so a crash mid-write never leaves a partial
// blob visible to a reader.
func (b *Buffer) Write(blob [blobLen]byte) error {
	dataPath := filepath.Join(b.dir, slotDataFile)
	tmp, err := os.CreateTemp(b.dir, "slot-*.tmp")
	if err != nil {
		return fmt.Errorf("randomness: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob[:]); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("randomness: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("randomness: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dataPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("randomness: rename temp file: %w", err)
	}
	return b.setMark(markFresh)
}

// Take reads and removes the current blob, returning ok=false if the slot
// is empty, stale (marked consumed), or malformed.
func (b *Buffer) Take() (blob [blobLen]byte, ok bool) {
	mark, err := b.readMark()
	if err != nil || mark != markFresh {
		return blob, false
	}
	data, err := os.ReadFile(filepath.Join(b.dir, slotDataFile))
	if err != nil || len(data) != blobLen {
		return blob, false
	}
	copy(blob[:], data)
	_ = b.setMark(markConsumed)
	_ = os.Remove(filepath.Join(b.dir, slotDataFile))
	return blob, true
}

func (b *Buffer) setMark(mark string) error {
	return os.WriteFile(filepath.Join(b.dir, slotMarkFile), []byte(mark), 0o640)
}

func (b *Buffer) readMark() (string, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, slotMarkFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
