// Package server implements the reference RTR cache: it serves a
// Maintainer-held VRP/RouterKey/ASPA set over the wire using the same
// codec the client session engine speaks, for interoperability and
// local testing against internal/rtrclient.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/config"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"go.uber.org/zap"
)

// Default interval values advertised in every EndOfData this server
// sends, mirroring the client-side defaults in internal/rtrclient.
const (
	DefaultRefreshInterval = uint32(3600)
	DefaultRetryInterval   = uint32(600)
	DefaultExpireInterval  = uint32(7200)

	refreshPeriod = 5 * time.Minute
)

// Server listens for RTR client connections and serves the Maintainer's
// current payload set, notifying already-connected clients when a
// periodic refresh finds new data.
type Server struct {
	listener net.Listener
	logger   *zap.SugaredLogger
	cfg      *config.Config
	maint    *Maintainer

	mu      sync.Mutex
	clients map[string]*client

	wg           sync.WaitGroup
	shuttingDown bool
}

// New creates a Server that will fetch its VRPs from cfg.RPKIURLs.
// Router Keys and ASPAs, which have no public feed, are left empty;
// NewWithMaintainer serves a caller-supplied Maintainer instead.
func New(cfg *config.Config, logger *zap.SugaredLogger) *Server {
	return &Server{
		logger:  logger,
		cfg:     cfg,
		maint:   NewMaintainer(rpkiLoader(cfg.RPKIURLs, rtrstate.Empty())),
		clients: make(map[string]*client),
	}
}

// NewWithMaintainer wires a Server directly to an already-constructed
// Maintainer, bypassing the default RPKI-JSON loader. Tests use this
// to serve a fixed, deterministic payload set.
func NewWithMaintainer(cfg *config.Config, logger *zap.SugaredLogger, maint *Maintainer) *Server {
	return &Server{
		logger:  logger,
		cfg:     cfg,
		maint:   maint,
		clients: make(map[string]*client),
	}
}

// Start loads the initial snapshot, begins listening, and blocks
// accepting connections until Stop closes the listener.
func (s *Server) Start() error {
	ctx := context.Background()

	if err := s.maint.Bootstrap(ctx); err != nil {
		return fmt.Errorf("server: initial load: %w", err)
	}
	snap, _ := s.maint.Snapshot()
	s.logger.Infof("loaded %d VRPs, %d router keys, %d ASPAs", len(snap.VRPs), len(snap.RouterKeys), len(snap.ASPAs))

	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = l
	s.logger.Infof("listening on %s with session id %d", l.Addr(), s.maint.SessionID())

	go s.periodicRefresh(ctx)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown {
				return nil
			}
			s.logger.Errorf("accept error: %v", err)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Addr returns the listener's address. Only valid after Start has
// begun listening; tests that bind to ":0" use this to learn the
// assigned port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := newClient(conn, s.logger, s.maint)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if err := c.Handle(); err != nil {
		s.logger.Warnf("client %s: %v", c.id, err)
	}

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

func (s *Server) periodicRefresh(ctx context.Context) {
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.maint.Refresh(ctx)
			if err != nil {
				s.logger.Errorf("refresh failed: %v", err)
				continue
			}
			if !changed {
				continue
			}
			serial := s.maint.Serial()
			s.logger.Infof("new data at serial %d, notifying connected clients", serial)
			s.notifyAll(serial)
		}
	}
}

func (s *Server) notifyAll(serial uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.notify(serial)
	}
}

// Stop closes the listener and waits up to timeout for in-flight
// handlers to finish.
func (s *Server) Stop(timeout time.Duration) error {
	s.shuttingDown = true

	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: shutdown timed out waiting for clients")
	}
}
