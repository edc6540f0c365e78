// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

// Enumerator produces candidate file paths under a root directory, honoring
// ignore rules. Paths are absolute and sorted; the enumeration order is the
// canonical cross-file ordering for search results.
type Enumerator interface {
	Enumerate(root string) ([]string, error)
}

// Matcher compiles search patterns into scanners. Compilation failures are
// reported to the caller as-is (malformed regex), never retried.
type Matcher interface {
	Compile(pattern string, caseSensitive bool) (CompiledPattern, error)
}

// CompiledPattern scans a byte buffer and yields line-level matches in
// ascending line order. At most one match is reported per line.
type CompiledPattern interface {
	Scan(buf []byte) []LineMatch
}

// LineMatch is one matching line within a single buffer.
type LineMatch struct {
	LineNumber int    // 1-based
	LineText   string // trailing newline/CR stripped
	ByteOffset int    // offset of the match start within the buffer
}

// AllocationRecord describes one persisted client allocation.
type AllocationRecord struct {
	Root        string `json:"root"`
	AllocatedAt int64  `json:"allocated_at"` // unix seconds
}

// AllocationStore persists client allocations so a restarted daemon can
// rebuild its tenant bindings. Writes are transactional; deleting an absent
// record is not an error.
type AllocationStore interface {
	SaveAllocation(clientID string, rec *AllocationRecord) error
	LoadAllocations() (map[string]*AllocationRecord, error)
	DeleteAllocation(clientID string) error
	Close() error
}
