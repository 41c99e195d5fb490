package chat

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/chat/wire"
)

// Server accepts TCP connections, runs one handler per connection, and
// drives the background delivery loop. All shared state lives in the
// Registry.
type Server struct {
	listener *net.TCPListener
	registry *Registry
	logger   Logger
	opts     options

	mu       sync.Mutex
	shutdown bool
}

// New creates a chat server bound to the given address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opt ...Option) (*Server, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	return &Server{
		listener: listener,
		registry: NewRegistry(),
		logger:   opts.logger,
		opts:     opts,
	}, nil
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Registry exposes the server's state registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve runs the accept loop and the delivery loop until the context is
// canceled or the listener fails. Connection handlers run as their own
// goroutines and terminate on peer disconnect or protocol error without
// affecting the rest of the server.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.runDelivery(ctx)
	})

	group.Go(func() error {
		return s.acceptLoop(ctx)
	})

	err := group.Wait()
	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	// Unblock Accept when the context is canceled.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		_ = conn.SetNoDelay(true)
		go s.handleConn(conn)
	}
}

// handleConn runs the per-connection read loop. On exit, for whatever
// reason, any session owned by the connection is removed so the account
// becomes available for a new login.
func (s *Server) handleConn(raw *net.TCPConn) {
	conn := newConn(raw, s.logger, s.opts.writeTimeout)
	s.logger.Info("connection established", "conn_id", conn.ID(), "addr", conn.Addr())

	defer func() {
		s.registry.Disconnect(conn)
		conn.Close()
	}()

	err := wire.ReadLoop(raw, func(message wire.Message) error {
		return s.dispatch(conn, message)
	})
	if err != nil {
		s.logger.Info("connection closed with error", "conn_id", conn.ID(), "addr", conn.Addr(), "error", err)
		return
	}
	s.logger.Info("connection closed", "conn_id", conn.ID(), "addr", conn.Addr())
}

// Close stops the server by closing the underlying listener.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.listener.Close()
}
