// Package registry binds client identifiers to their mapped codebases. Each
// client owns an independent snapshot, even when roots overlap. Builds for one
// client are serialized; distinct clients never contend beyond a brief map
// lookup.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/corey/curserve/internal/domain/codebase"
	"github.com/corey/curserve/internal/ports"
)

// ErrNoAllocation indicates the client has no bound codebase; it must
// allocate first.
var ErrNoAllocation = errors.New("no allocated codebase for client")

// Summary reports the outcome of an allocation or refresh.
type Summary struct {
	ClientID   string
	Root       string
	FileCount  int
	TotalBytes int64
	Refreshed  bool // true when an existing binding was replaced
}

type binding struct {
	mu   sync.Mutex // serializes builds for this client
	root string
	snap atomic.Pointer[codebase.Snapshot]
}

// Registry is the client → codebase map.
type Registry struct {
	enum    ports.Enumerator
	matcher ports.Matcher
	opts    codebase.Options

	mu       sync.Mutex
	bindings map[string]*binding
}

// New creates an empty registry.
func New(enum ports.Enumerator, m ports.Matcher, opts codebase.Options) *Registry {
	return &Registry{
		enum:     enum,
		matcher:  m,
		opts:     opts,
		bindings: make(map[string]*binding),
	}
}

func (r *Registry) getOrCreate(clientID string) *binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bindings[clientID]
	if b == nil {
		b = &binding{}
		r.bindings[clientID] = b
	}
	return b
}

func (r *Registry) get(clientID string) *binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings[clientID]
}

// Allocate builds a codebase for clientID rooted at root and binds it.
// Re-allocating an existing client replaces its snapshot wholesale (refresh
// semantics); the old snapshot stays valid for searches already in flight.
func (r *Registry) Allocate(clientID, root string) (*Summary, error) {
	b := r.getOrCreate(clientID)
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := codebase.Build(root, r.enum, r.opts)
	if err != nil {
		if b.snap.Load() == nil {
			r.dropIfEmpty(clientID, b)
		}
		return nil, err
	}

	old := b.snap.Swap(snap)
	b.root = snap.Root
	if old != nil {
		old.Close()
	}
	return &Summary{
		ClientID:   clientID,
		Root:       snap.Root,
		FileCount:  snap.FileCount(),
		TotalBytes: snap.TotalBytes,
		Refreshed:  old != nil,
	}, nil
}

// dropIfEmpty removes a binding that never got a snapshot, so a failed first
// allocation leaves no trace.
func (r *Registry) dropIfEmpty(clientID string, b *binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[clientID] == b && b.snap.Load() == nil {
		delete(r.bindings, clientID)
	}
}

// Refresh rebuilds the client's codebase against its bound root.
func (r *Registry) Refresh(clientID string) (*Summary, error) {
	b := r.get(clientID)
	if b == nil {
		return nil, ErrNoAllocation
	}
	b.mu.Lock()
	root := b.root
	b.mu.Unlock()
	if root == "" {
		return nil, ErrNoAllocation
	}
	return r.Allocate(clientID, root)
}

// Lookup returns the client's current snapshot.
func (r *Registry) Lookup(clientID string) (*codebase.Snapshot, error) {
	b := r.get(clientID)
	if b == nil {
		return nil, ErrNoAllocation
	}
	snap := b.snap.Load()
	if snap == nil {
		return nil, ErrNoAllocation
	}
	return snap, nil
}

// Search resolves the client's snapshot and runs a search against it. Losing
// the race with a concurrent refresh just means resolving again; a lost race
// with deallocation surfaces as ErrNoAllocation on the next lookup.
func (r *Registry) Search(clientID, pattern string, caseSensitive bool, maxResults int) (*codebase.Result, error) {
	for {
		snap, err := r.Lookup(clientID)
		if err != nil {
			return nil, err
		}
		res, err := snap.Search(r.matcher, pattern, caseSensitive, maxResults)
		if errors.Is(err, codebase.ErrSnapshotClosed) {
			continue
		}
		return res, err
	}
}

// Deallocate removes the client's binding and releases its codebase.
// Idempotent: unknown clients are a no-op. Taking the binding mutex serializes
// teardown with an in-flight build for the same client, so a snapshot is never
// published into a removed binding and then leaked.
func (r *Registry) Deallocate(clientID string) {
	r.mu.Lock()
	b := r.bindings[clientID]
	r.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r.mu.Lock()
	if r.bindings[clientID] == b {
		delete(r.bindings, clientID)
	}
	r.mu.Unlock()

	if snap := b.snap.Swap(nil); snap != nil {
		snap.Close()
	}
}

// Count returns the number of bound clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// Close deallocates every client.
func (r *Registry) Close() {
	r.mu.Lock()
	bindings := r.bindings
	r.bindings = make(map[string]*binding)
	r.mu.Unlock()

	for _, b := range bindings {
		b.mu.Lock()
		if snap := b.snap.Swap(nil); snap != nil {
			snap.Close()
		}
		b.mu.Unlock()
	}
}
