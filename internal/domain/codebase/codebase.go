// Package codebase implements the memory-mapped codebase snapshot: building a
// filtered set of read-only file mappings under a root directory and scanning
// them in parallel with deterministic result ordering.
//
// A Snapshot is immutable once built. Refreshing a codebase means building a
// new Snapshot and swapping it in whole; searches holding the old one keep its
// mappings alive until they finish.
package codebase

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corey/curserve/internal/mmap"
	"github.com/corey/curserve/internal/ports"
)

// ErrRootInaccessible indicates the root directory is missing or unreadable.
var ErrRootInaccessible = errors.New("root inaccessible")

// ErrSnapshotClosed indicates a search raced with deallocation.
var ErrSnapshotClosed = errors.New("snapshot closed")

const (
	// DefaultMaxFileSize is the per-file mapping ceiling.
	DefaultMaxFileSize = 50 * 1024 * 1024
	// DefaultMaxResults bounds the match list returned by a search.
	DefaultMaxResults = 1000
	// sniffLen is how many leading bytes are checked for a NUL binary marker.
	sniffLen = 512
)

// Options control build filtering.
type Options struct {
	MaxFileSize int64 // per-file byte ceiling; DefaultMaxFileSize when 0
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	return o
}

// MappedFile is one on-disk file resident in memory. The buffer is a direct
// view over the mapping; it is never copied.
type MappedFile struct {
	Path string // relative to the snapshot root, slash-separated
	Size int64
	m    *mmap.Mapping
}

// Bytes returns the file's mapped contents.
func (f *MappedFile) Bytes() []byte {
	return f.m.Bytes()
}

// Snapshot is the searchable, immutable result of one build pass over a root
// directory. Mappings are reference-counted: Close drops the owner reference,
// and the mappings are released once the last in-flight search finishes.
type Snapshot struct {
	Root       string
	BuiltAt    time.Time
	TotalBytes int64
	// MapFailures counts per-file open/map errors that were skipped
	// during the build.
	MapFailures int

	files  []*MappedFile // enumeration order
	byPath map[string]*MappedFile

	refs   atomic.Int64
	closed atomic.Bool
}

// Build enumerates candidates under root via enum and memory-maps every file
// that passes filtering: non-empty, within the size ceiling, and free of NUL
// bytes in its leading content. Per-file failures are logged and skipped; the
// build fails only if the root is inaccessible or every candidate failed.
func Build(root string, enum ports.Enumerator, opts Options) (*Snapshot, error) {
	opts = opts.withDefaults()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}
	paths, err := enum.Enumerate(absRoot)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Root:    absRoot,
		BuiltAt: time.Now(),
		byPath:  make(map[string]*MappedFile),
	}
	snap.refs.Store(1)

	candidates := 0
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue // disappeared since enumeration
		}
		size := fi.Size()
		if size == 0 || size > opts.MaxFileSize {
			continue
		}
		candidates++

		f, err := os.Open(p)
		if err != nil {
			log.Printf("codebase: skip %s: %v", p, err)
			snap.MapFailures++
			continue
		}
		m, err := mmap.Map(f)
		f.Close()
		if err != nil {
			log.Printf("codebase: skip %s: %v", p, err)
			snap.MapFailures++
			continue
		}
		if looksBinary(m.Bytes()) {
			m.Close()
			continue
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			m.Close()
			continue
		}
		rel = filepath.ToSlash(rel)
		mf := &MappedFile{Path: rel, Size: int64(m.Len()), m: m}
		snap.files = append(snap.files, mf)
		snap.byPath[rel] = mf
		snap.TotalBytes += mf.Size
	}

	if candidates > 0 && len(snap.files) == 0 && snap.MapFailures == candidates {
		snap.Close()
		return nil, fmt.Errorf("all %d candidate files under %s failed to map", candidates, absRoot)
	}
	return snap, nil
}

// looksBinary reports whether the leading bytes contain a NUL, the binary
// marker used by the build filter.
func looksBinary(buf []byte) bool {
	n := len(buf)
	if n > sniffLen {
		n = sniffLen
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// FileCount returns the number of mapped files.
func (s *Snapshot) FileCount() int {
	return len(s.files)
}

// File returns the mapped file at the given relative path, or nil.
func (s *Snapshot) File(rel string) *MappedFile {
	return s.byPath[rel]
}

// Close drops the owner reference. Mappings are released once no search holds
// the snapshot. Idempotent.
func (s *Snapshot) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.release()
	}
}

func (s *Snapshot) retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 {
		for _, f := range s.files {
			f.m.Close()
		}
	}
}

// Match is one search hit.
type Match struct {
	Path       string
	LineNumber int // 1-based
	Line       string
	ByteOffset int // offset of the match start within the file
}

// Result is the outcome of one search over a snapshot.
type Result struct {
	Matches      []Match
	TotalMatches int // true count before truncation
	FilesScanned int
	Elapsed      time.Duration
}

// Search compiles pattern via m and scans every mapped file in parallel.
// Results are deterministic for a fixed snapshot: files in enumeration order,
// matches within a file by ascending line. The returned list is truncated to
// maxResults (DefaultMaxResults when <= 0) but TotalMatches always reports the
// untruncated count.
func (s *Snapshot) Search(m ports.Matcher, pattern string, caseSensitive bool, maxResults int) (*Result, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	pat, err := m.Compile(pattern, caseSensitive)
	if err != nil {
		return nil, err
	}

	if !s.retain() {
		return nil, ErrSnapshotClosed
	}
	defer s.release()

	start := time.Now()
	perFile := make([][]ports.LineMatch, len(s.files))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range s.files {
		i, f := i, f
		g.Go(func() error {
			perFile[i] = pat.Scan(f.Bytes())
			return nil
		})
	}
	g.Wait()

	res := &Result{FilesScanned: len(s.files)}
	for i, lms := range perFile {
		res.TotalMatches += len(lms)
		for _, lm := range lms {
			if len(res.Matches) >= maxResults {
				break
			}
			res.Matches = append(res.Matches, Match{
				Path:       s.files[i].Path,
				LineNumber: lm.LineNumber,
				Line:       lm.LineText,
				ByteOffset: lm.ByteOffset,
			})
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}
