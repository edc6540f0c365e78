// Package socket implements the curserve request/response protocol over Unix
// sockets. All clients submit newline-delimited JSON requests on one shared
// request socket; each allocated client receives its responses on a private
// reply socket, so one slow client never delays delivery to another.
package socket

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
)

// Request types.
const (
	TypeAllocPID       = "alloc_pid"
	TypeRequestRipgrep = "request_ripgrep"
	TypeRefresh        = "refresh_pid"
	TypeDeallocPID     = "dealloc_pid"
	TypeHealth         = "health"
	TypeShutdown       = "shutdown"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error kinds carried in error responses.
const (
	KindRootInaccessible = "root_inaccessible"
	KindNoAllocation     = "no_allocation"
	KindInvalidPattern   = "invalid_pattern"
	KindBadRequest       = "bad_request"
	KindInternal         = "internal"
)

// DefaultSocketPath returns the default shared request socket path.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "curserve.sock")
}

// ReplyPath returns the private reply socket path for a client.
// The client identifier is hashed so arbitrary identifiers stay
// filesystem-safe.
func ReplyPath(dir, clientID string) string {
	h := sha256.Sum256([]byte(clientID))
	return filepath.Join(dir, fmt.Sprintf("curserve-reply-%x.sock", h[:6]))
}

// Request is the wire format for client-to-server messages.
type Request struct {
	Type          string `json:"type"`
	ClientID      string `json:"client_id,omitempty"`
	RootPath      string `json:"root_path,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// Match is a single search hit (wire format).
type Match struct {
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Text       string `json:"text"`
	ByteOffset int    `json:"byte_offset"`
}

// Response is the wire format for server-to-client messages. Status is always
// set; Kind and Error only on failures; the payload fields depend on the
// request type.
type Response struct {
	Status string `json:"status"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`

	// alloc_pid payload
	FileCount  int   `json:"file_count,omitempty"`
	TotalBytes int64 `json:"total_bytes,omitempty"`

	// request_ripgrep payload
	Matches      []Match `json:"matches,omitempty"`
	TotalMatches int     `json:"total_matches"`
	FilesScanned int     `json:"files_scanned"`
	Elapsed      string  `json:"elapsed,omitempty"`

	// health payload
	Tenants int    `json:"tenants,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

func errorResponse(kind, msg string) Response {
	return Response{Status: StatusError, Kind: kind, Error: msg}
}
