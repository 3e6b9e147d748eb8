package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mattjoyce/rfidgate/internal/events"
	"github.com/mattjoyce/rfidgate/internal/log"
	"github.com/mattjoyce/rfidgate/internal/metrics"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config holds reader listener settings.
type Config struct {
	Listen string
	// MaxConnections caps concurrent sessions; 0 means no cap.
	MaxConnections int
	MaxLineBytes   int
}

// Server accepts reader connections and runs a Session for each.
type Server struct {
	config   Config
	dir      Directory
	verifier Verifier
	hub      *events.Hub
	logger   *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	draining bool
	wg       sync.WaitGroup

	// rejectLog throttles the over-capacity warning while a reader storm lasts.
	rejectLog rate.Sometimes
}

// New creates a reader server. verifier may be nil for lookup-only replies
// and hub may be nil when no one listens for scan events.
func New(config Config, dir Directory, verifier Verifier, hub *events.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = log.WithComponent("reader")
	}
	return &Server{
		config:   config,
		dir:      dir,
		verifier: verifier,
		hub:      hub,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),

		rejectLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Start binds the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("reader listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// On return the listener and every live connection are closed and all
// session goroutines have exited.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.ln = ln
	s.draining = false
	s.mu.Unlock()

	s.logger.Info("reader server listening",
		"listen", ln.Addr().String(),
		"max_connections", s.config.MaxConnections,
		"verifier", s.verifier != nil,
	)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			metrics.AcceptErrorsTotal.Inc()
			s.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)

			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
			continue
		}
		backoff = 0

		if !s.track(conn) {
			metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
			remote := conn.RemoteAddr().String()
			s.rejectLog.Do(func() {
				s.logger.Warn("rejecting reader connection",
					"remote", remote,
					"max_connections", s.config.MaxConnections,
				)
			})
			_ = conn.Close()
			continue
		}
		metrics.ConnectionsTotal.WithLabelValues("served").Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)

			metrics.SessionsActive.Inc()
			defer metrics.SessionsActive.Dec()

			NewSession(conn, s.dir, s.verifier, s.hub, s.config.MaxLineBytes).Run(ctx)
		}()
	}

	s.logger.Info("reader server shutting down", "active_sessions", s.ActiveSessions())
	cancel()
	s.closeConns()
	s.wg.Wait()
	s.logger.Info("reader server stopped")
	return nil
}

// Addr returns the bound listener address, or nil before Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveSessions returns the number of connections currently served.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	if s.config.MaxConnections > 0 && len(s.conns) >= s.config.MaxConnections {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// closeConns closes every live connection, which unblocks their reads.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}
