package socket

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/corey/curserve/internal/domain/codebase"
	"github.com/corey/curserve/internal/domain/matcher"
	"github.com/corey/curserve/internal/ports"
	"github.com/corey/curserve/internal/registry"
)

// Config holds the injected server addresses and tunables.
type Config struct {
	SocketPath    string        // shared request socket
	ReplyDir      string        // directory for per-client reply sockets
	AcceptTimeout time.Duration // how long to wait for a client to dial its reply socket
	Workers       int           // dispatcher pool size
}

func (c Config) withDefaults() Config {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath()
	}
	if c.ReplyDir == "" {
		c.ReplyDir = os.TempDir()
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// inbound pairs a parsed request with the connection it arrived on. The
// origin is used for delivery only when the client has no reply channel.
type inbound struct {
	req    Request
	origin net.Conn
}

// Server is the request dispatcher: it pulls interleaved requests from the
// shared socket, executes them against the tenant registry, and routes each
// response to the requesting client's private reply socket.
type Server struct {
	reg     *registry.Registry
	store   ports.AllocationStore // may be nil
	cfg     Config
	started time.Time

	listener net.Listener
	requests chan inbound

	repliesMu sync.Mutex
	replies   map[string]net.Conn

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	pendingMu sync.Mutex
	pending   map[net.Listener]struct{} // reply listeners awaiting their accept

	done         chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a dispatcher backed by the given registry. store may be
// nil to disable allocation persistence.
func NewServer(reg *registry.Registry, store ports.AllocationStore, cfg Config) *Server {
	return &Server{
		reg:        reg,
		store:      store,
		cfg:        cfg.withDefaults(),
		requests:   make(chan inbound, 64),
		replies:    make(map[string]net.Conn),
		conns:      make(map[net.Conn]struct{}),
		pending:    make(map[net.Listener]struct{}),
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Addr returns the shared request socket path.
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// ShutdownCh is closed when a remote shutdown request is received. The
// daemon's main goroutine should select on this alongside OS signals.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Start begins listening on the shared request socket and launches the
// dispatcher pool. Stale sockets are probed and removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		conn, err := net.DialTimeout("unix", s.cfg.SocketPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.cfg.SocketPath)
		}
		os.Remove(s.cfg.SocketPath)
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.dispatchLoop()
	}
	return nil
}

// Stop shuts the server down: listener closed, reply channels torn down,
// socket file removed. Idempotent.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.repliesMu.Lock()
		for id, conn := range s.replies {
			conn.Close()
			delete(s.replies, id)
		}
		s.repliesMu.Unlock()
		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()
		s.pendingMu.Lock()
		for ln := range s.pending {
			ln.Close()
		}
		s.pendingMu.Unlock()
		s.wg.Wait()
		os.Remove(s.cfg.SocketPath)
	})
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn reads newline-delimited JSON requests and queues them on the
// shared inbound channel. Parse failures are answered immediately on the
// originating connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(conn, errorResponse(KindBadRequest, "invalid request JSON"))
			continue
		}

		select {
		case s.requests <- inbound{req: req, origin: conn}:
		case <-s.done:
			return
		}
	}
}

func (s *Server) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case in := <-s.requests:
			if in.req.Type == TypeAllocPID {
				// The build and the reply-socket accept can each take
				// a while; run them off the worker so a slow or absent
				// client never stalls dispatch for the others.
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.deliver(in, s.handleAlloc(in.req))
				}()
				continue
			}

			resp := s.handleRequest(in.req)
			s.deliver(in, resp)

			switch in.req.Type {
			case TypeDeallocPID:
				s.closeReply(in.req.ClientID)
			case TypeShutdown:
				s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			}
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Type {
	case TypeAllocPID:
		return s.handleAlloc(req)
	case TypeRequestRipgrep:
		return s.handleRipgrep(req)
	case TypeRefresh:
		return s.handleRefresh(req)
	case TypeDeallocPID:
		return s.handleDealloc(req)
	case TypeHealth:
		return s.handleHealth()
	case TypeShutdown:
		return Response{Status: StatusOK}
	default:
		return errorResponse(KindBadRequest, fmt.Sprintf("unknown request type: %q", req.Type))
	}
}

func (s *Server) handleAlloc(req Request) Response {
	if req.ClientID == "" || req.RootPath == "" {
		return errorResponse(KindBadRequest, "alloc_pid requires client_id and root_path")
	}

	// A fresh reply channel per allocation, bound before the build so the
	// client hears about allocation failures on it too. The client dials it
	// right after sending the request.
	pending := s.openReply(req.ClientID)

	summary, err := s.reg.Allocate(req.ClientID, req.RootPath)

	// Delivery routes by the replies map, so wait until the accept settles.
	<-pending.done
	if pending.err != nil {
		log.Printf("socket: reply channel for %s: %v", req.ClientID, pending.err)
	}

	if err != nil {
		return errorFor(err)
	}

	if s.store != nil {
		rec := &ports.AllocationRecord{Root: summary.Root, AllocatedAt: time.Now().Unix()}
		if err := s.store.SaveAllocation(req.ClientID, rec); err != nil {
			log.Printf("socket: persist allocation for %s: %v", req.ClientID, err)
		}
	}

	return Response{
		Status:     StatusOK,
		FileCount:  summary.FileCount,
		TotalBytes: summary.TotalBytes,
	}
}

func (s *Server) handleRipgrep(req Request) Response {
	if req.ClientID == "" {
		return errorResponse(KindBadRequest, "request_ripgrep requires client_id")
	}

	res, err := s.reg.Search(req.ClientID, req.Pattern, req.CaseSensitive, req.MaxResults)
	if err != nil {
		return errorFor(err)
	}

	matches := make([]Match, len(res.Matches))
	for i, m := range res.Matches {
		matches[i] = Match{
			Path:       m.Path,
			Line:       m.LineNumber,
			Text:       m.Line,
			ByteOffset: m.ByteOffset,
		}
	}
	return Response{
		Status:       StatusOK,
		Matches:      matches,
		TotalMatches: res.TotalMatches,
		FilesScanned: res.FilesScanned,
		Elapsed:      res.Elapsed.String(),
	}
}

// handleRefresh rebuilds the client's codebase against its already-bound root.
func (s *Server) handleRefresh(req Request) Response {
	if req.ClientID == "" {
		return errorResponse(KindBadRequest, "refresh_pid requires client_id")
	}
	summary, err := s.reg.Refresh(req.ClientID)
	if err != nil {
		return errorFor(err)
	}
	return Response{
		Status:     StatusOK,
		FileCount:  summary.FileCount,
		TotalBytes: summary.TotalBytes,
	}
}

func (s *Server) handleDealloc(req Request) Response {
	if req.ClientID == "" {
		return errorResponse(KindBadRequest, "dealloc_pid requires client_id")
	}
	s.reg.Deallocate(req.ClientID)
	if s.store != nil {
		if err := s.store.DeleteAllocation(req.ClientID); err != nil {
			log.Printf("socket: drop allocation record for %s: %v", req.ClientID, err)
		}
	}
	return Response{Status: StatusOK}
}

func (s *Server) handleHealth() Response {
	return Response{
		Status:  StatusOK,
		Tenants: s.reg.Count(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
}

// errorFor maps domain errors to wire error kinds.
func errorFor(err error) Response {
	switch {
	case errors.Is(err, registry.ErrNoAllocation):
		return errorResponse(KindNoAllocation, "no allocated codebase; call alloc_pid first")
	case errors.Is(err, codebase.ErrRootInaccessible):
		return errorResponse(KindRootInaccessible, err.Error())
	case errors.Is(err, matcher.ErrInvalidPattern):
		return errorResponse(KindInvalidPattern, err.Error())
	default:
		return errorResponse(KindInternal, err.Error())
	}
}

// pendingReply tracks an accept in flight on a freshly bound reply socket.
// done is closed once the accept has succeeded, failed, or timed out.
type pendingReply struct {
	err  error
	done chan struct{}
}

// openReply binds the client's private reply socket and accepts the client's
// connection on its own goroutine, bounded by the accept timeout. Any previous
// reply channel for the client is replaced. The client dials while the build
// runs, so the accept normally completes before the response is ready.
func (s *Server) openReply(clientID string) *pendingReply {
	s.closeReply(clientID)

	p := &pendingReply{done: make(chan struct{})}

	path := ReplyPath(s.cfg.ReplyDir, clientID)
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		p.err = fmt.Errorf("bind reply socket: %w", err)
		close(p.done)
		return p
	}
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
	}

	s.pendingMu.Lock()
	s.pending[ln] = struct{}{}
	s.pendingMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn, err := ln.Accept()

		s.pendingMu.Lock()
		delete(s.pending, ln)
		s.pendingMu.Unlock()
		ln.Close() // one connection per allocation; unlinks the socket file

		if err != nil {
			p.err = fmt.Errorf("accept on reply socket: %w", err)
		} else {
			s.repliesMu.Lock()
			s.replies[clientID] = conn
			s.repliesMu.Unlock()
		}
		close(p.done)
	}()
	return p
}

func (s *Server) closeReply(clientID string) {
	s.repliesMu.Lock()
	conn := s.replies[clientID]
	delete(s.replies, clientID)
	s.repliesMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// deliver routes a response. Tenant operations go to the client's private
// reply channel when one is bound; a dead reply channel tears the whole
// binding down (the original allocation is gone once its owner disconnects).
// Requests from clients with no reply channel — including NoAllocation
// errors — are answered on the originating connection.
func (s *Server) deliver(in inbound, resp Response) {
	switch in.req.Type {
	case TypeHealth, TypeShutdown:
		writeResponse(in.origin, resp)
		return
	}

	s.repliesMu.Lock()
	conn := s.replies[in.req.ClientID]
	s.repliesMu.Unlock()

	if conn == nil {
		writeResponse(in.origin, resp)
		return
	}
	if err := writeResponse(conn, resp); err != nil {
		log.Printf("socket: reply to %s failed, dropping binding: %v", in.req.ClientID, err)
		s.teardownClient(in.req.ClientID)
		writeResponse(in.origin, errorResponse(KindNoAllocation, "reply channel lost; allocation dropped"))
	}
}

// teardownClient cleans up after a dead reply channel: connection closed,
// binding deallocated, persisted record removed.
func (s *Server) teardownClient(clientID string) {
	s.closeReply(clientID)
	s.reg.Deallocate(clientID)
	if s.store != nil {
		if err := s.store.DeleteAllocation(clientID); err != nil {
			log.Printf("socket: drop allocation record for %s: %v", clientID, err)
		}
	}
}

func writeResponse(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
