package http

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gabapcia/addresswatch/internal/pkg/logger"
)

// ErrServiceAlreadyStarted is returned if Start is called twice.
var ErrServiceAlreadyStarted = errors.New("service already started")

const (
	defaultTimeout         = 15 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server serves a handler until Close.
type Server struct {
	mu        sync.Mutex
	server    *nethttp.Server
	listener  net.Listener
	isStarted bool
	isClosed  bool
}

// NewServer returns a server for handler listening on addr.
func NewServer(addr string, handler nethttp.Handler) *Server {
	return &Server{
		server: &nethttp.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: defaultTimeout,
			ReadTimeout:       defaultTimeout,
			WriteTimeout:      defaultTimeout,
		},
	}
}

// Start binds the listen address and serves in the background. Bind
// errors are returned synchronously. A closed server cannot be restarted.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.isStarted = true

	ctx = logger.Derive(ctx, "http.addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", "error", err)
		}
	}()

	logger.Info(ctx, "http server listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down, waiting briefly for open requests.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isStarted || s.isClosed {
		return
	}
	s.isClosed = true

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "error shutting down http server", "error", err)
	}
}
