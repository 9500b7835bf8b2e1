package jobcentre

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// Server accepts TCP connections and dispatches each to its own
// ClientSession against a shared Store (spec §4.6 "Server").
type Server struct {
	listener  net.Listener
	store     *Store
	logger    *slog.Logger
	onRequest func(verb, status string)
}

// NewServer wraps an already-bound listener. onRequest, if non-nil, is
// forwarded to every ClientSession for per-request metrics.
func NewServer(listener net.Listener, store *Store, logger *slog.Logger, onRequest func(verb, status string)) *Server {
	return &Server{
		listener:  listener,
		store:     store,
		logger:    logger.With(slog.String("component", "jobcentre.server")),
		onRequest: onRequest,
	}
}

// Store returns the server's shared Job Store, for the admin/metrics
// surface.
func (s *Server) Store() *Store { return s.store }

// Run accepts connections until ctx is cancelled, serving each on its own
// goroutine under its own derived context. It returns nil on clean
// shutdown (listener closed because ctx was cancelled).
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// A connection's own context is a child of the daemon-wide ctx
		// rather than ctx itself, so it can be cancelled — and its
		// resources released — the moment this connection's own serving
		// goroutine exits, independent of every other connection.
		connCtx, cancel := context.WithCancel(ctx)
		sess := NewClientSession(conn, s.store, s.logger, s.onRequest)
		go func() {
			defer cancel()
			defer func() { _ = conn.Close() }()
			sess.Serve(connCtx)
		}()
	}
}
