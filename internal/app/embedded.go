package app

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/corey/curserve/internal/domain/codebase"
	"github.com/corey/curserve/internal/domain/matcher"
	"github.com/corey/curserve/internal/ports"
)

// Embedded is the synchronous single-tenant interface: one process, one
// codebase, no client identifiers or sockets. Reload and Search carry the
// same semantics as the daemon operations.
type Embedded struct {
	root    string
	enum    ports.Enumerator
	matcher ports.Matcher
	opts    codebase.Options

	mu   sync.Mutex // serializes Reload/Close
	snap atomic.Pointer[codebase.Snapshot]
}

// Open builds a codebase rooted at root and keeps it resident.
func Open(root string, opts codebase.Options) (*Embedded, error) {
	e := &Embedded{
		root:    root,
		enum:    codebase.NewWalker(),
		matcher: matcher.New(),
		opts:    opts,
	}
	snap, err := codebase.Build(root, e.enum, e.opts)
	if err != nil {
		return nil, err
	}
	e.snap.Store(snap)
	e.root = snap.Root
	return e, nil
}

// Reload rebuilds the codebase from disk and swaps it in whole. Searches in
// flight keep the old snapshot until they complete.
func (e *Embedded) Reload() (fileCount int, totalBytes int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := codebase.Build(e.root, e.enum, e.opts)
	if err != nil {
		return 0, 0, err
	}
	if old := e.snap.Swap(snap); old != nil {
		old.Close()
	}
	return snap.FileCount(), snap.TotalBytes, nil
}

// Search scans the resident codebase. Losing the race with a concurrent
// Reload just means resolving the snapshot again; after Close the next load
// yields nil and the loop terminates.
func (e *Embedded) Search(pattern string, caseSensitive bool, maxResults int) (*codebase.Result, error) {
	for {
		snap := e.snap.Load()
		if snap == nil {
			return nil, codebase.ErrSnapshotClosed
		}
		res, err := snap.Search(e.matcher, pattern, caseSensitive, maxResults)
		if errors.Is(err, codebase.ErrSnapshotClosed) {
			continue
		}
		return res, err
	}
}

// FileCount returns the number of mapped files in the current snapshot.
func (e *Embedded) FileCount() int {
	if snap := e.snap.Load(); snap != nil {
		return snap.FileCount()
	}
	return 0
}

// TotalBytes returns the aggregate mapped size of the current snapshot.
func (e *Embedded) TotalBytes() int64 {
	if snap := e.snap.Load(); snap != nil {
		return snap.TotalBytes
	}
	return 0
}

// Close releases the mappings. Idempotent.
func (e *Embedded) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap := e.snap.Swap(nil); snap != nil {
		snap.Close()
	}
}
