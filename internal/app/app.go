// Package app wires together the adapters and domain logic. It provides
// lifecycle management for the curserve daemon (create, start, stop) and an
// embedded single-tenant interface for in-process use.
package app

import (
	"log"
	"os"
	"path/filepath"

	"github.com/corey/curserve/internal/adapters/bbolt"
	"github.com/corey/curserve/internal/adapters/socket"
	"github.com/corey/curserve/internal/domain/codebase"
	"github.com/corey/curserve/internal/domain/matcher"
	"github.com/corey/curserve/internal/ports"
	"github.com/corey/curserve/internal/registry"
)

// Config holds the daemon's injected settings.
type Config struct {
	SocketPath  string // shared request socket; default /tmp/curserve.sock
	ReplyDir    string // reply socket directory; default alongside the socket
	DBPath      string // allocation store; empty disables persistence
	MaxFileSize int64  // per-file mapping ceiling; default 50 MB
	Workers     int    // dispatcher pool size
}

// DefaultDBPath returns the default allocation store location.
func DefaultDBPath() string {
	return filepath.Join(os.TempDir(), "curserve.db")
}

// App is the top-level container wiring all components together.
type App struct {
	Registry *registry.Registry
	Store    *bbolt.Store // nil when persistence is disabled
	Server   *socket.Server
}

// New creates a fully wired daemon from cfg.
func New(cfg Config) (*App, error) {
	reg := registry.New(
		codebase.NewWalker(),
		matcher.New(),
		codebase.Options{MaxFileSize: cfg.MaxFileSize},
	)

	a := &App{Registry: reg}
	if cfg.DBPath != "" {
		store, err := bbolt.NewStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.Store = store
	}

	// Typed-nil *bbolt.Store must not leak into the interface parameter.
	var store ports.AllocationStore
	if a.Store != nil {
		store = a.Store
	}
	a.Server = socket.NewServer(reg, store, socket.Config{
		SocketPath: cfg.SocketPath,
		ReplyDir:   cfg.ReplyDir,
		Workers:    cfg.Workers,
	})
	return a, nil
}

// Start restores persisted allocations and begins serving. Restored bindings
// have no reply channel until their client re-allocates; meanwhile responses
// fall back to the requesting connection.
func (a *App) Start() error {
	if a.Store != nil {
		recs, err := a.Store.LoadAllocations()
		if err != nil {
			log.Printf("app: load allocations: %v", err)
		}
		for clientID, rec := range recs {
			if _, err := a.Registry.Allocate(clientID, rec.Root); err != nil {
				log.Printf("app: restore %s (%s): %v", clientID, rec.Root, err)
				if derr := a.Store.DeleteAllocation(clientID); derr != nil {
					log.Printf("app: drop stale record %s: %v", clientID, derr)
				}
			}
		}
	}
	return a.Server.Start()
}

// Stop shuts everything down in reverse order.
func (a *App) Stop() error {
	err := a.Server.Stop()
	a.Registry.Close()
	if a.Store != nil {
		if cerr := a.Store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ShutdownCh is closed when a remote shutdown request arrives.
func (a *App) ShutdownCh() <-chan struct{} {
	return a.Server.ShutdownCh()
}
