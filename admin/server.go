// Package admin exposes a heap's runtime statistics over net/rpc, adapted
// from the teacher's rpc.Server: same registration and listener-loop shape,
// but every method is read-only introspection instead of remote
// allocate/free (a thread heap is never meant to be driven from another
// process).
package admin

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"segheap/heap"
	"segheap/internal/xlog"
)

// StatsRequest carries no fields; net/rpc still requires a concrete
// argument type for every method.
type StatsRequest struct{}

// StatsResponse mirrors heap.Stats over the wire.
type StatsResponse struct {
	ActiveSegments int
	HugeSegments   int
	PendingFrees   int64
	SizeClasses    int
}

// Server publishes one heap's Snapshot over RPC. Grounded in rpc/server.go's
// NewServer/Start/Register shape.
type Server struct {
	mu   sync.Mutex
	heap *heap.Heap
}

// NewServer wraps an existing heap. The heap is not owned by the server;
// the caller is still responsible for Close-ing it.
func NewServer(h *heap.Heap) (*Server, error) {
	s := &Server{heap: h}
	if err := rpc.Register(s); err != nil {
		return nil, fmt.Errorf("admin: register: %w", err)
	}
	return s, nil
}

// Start listens on address and serves connections. It returns only when the
// listen itself fails; after that it never returns, and a failed Accept is
// logged and the loop goes on.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("admin: listen: %w", err)
	}
	defer listener.Close()

	xlog.Info("admin server listening on %s", address)

	for {
		conn, err := listener.Accept()
		if err != nil {
			xlog.Warn("admin: accept failed: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stats returns a snapshot of the wrapped heap's counters. The method name
// and signature (pointer receiver, two args, error return) follow net/rpc's
// calling convention, same as Server.Allocate in the teacher.
func (s *Server) Stats(req *StatsRequest, resp *StatsResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.heap.Snapshot()
	resp.ActiveSegments = snap.ActiveSegments
	resp.HugeSegments = snap.HugeSegments
	resp.PendingFrees = snap.PendingFrees
	resp.SizeClasses = snap.SizeClasses
	return nil
}
