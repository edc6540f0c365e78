// Package mmap provides owned, read-only memory mappings of files.
//
// A Mapping aliases the mapped file region directly; no copy is made. Any
// slice derived from Bytes becomes invalid after Close. Close releases the
// mapping exactly once and is safe to call repeatedly.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

// ErrEmptyFile indicates an attempt to map a zero-length file, which the
// underlying syscall rejects.
var ErrEmptyFile = errors.New("mmap: empty file")

// Mapping is one read-only mapping of a file's contents.
type Mapping struct {
	data    []byte
	release func([]byte) error
}

// Map memory-maps f read-only. The file may be closed after Map returns;
// the mapping stays valid until Close.
func Map(f *os.File) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file too large: %d bytes", size)
	}

	data, release, err := osMap(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &Mapping{data: data, release: release}, nil
}

// Bytes returns the mapped region. Nil after Close.
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Len returns the mapped length in bytes.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Close unmaps the region. Idempotent.
func (m *Mapping) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if m.release == nil {
		return nil
	}
	return m.release(data)
}
