// Package server implements the serving side of MessagePack-RPC: a dispatcher
// that turns inbound messages into responses, and a TCP server with graceful
// shutdown.
//
// Request processing pipeline:
//
//	Accept conn → session readLoop (one goroutine reads frames)
//	  → Dispatcher.AsyncProcessMessage (worker pool)
//	    → Validate → Lookup → Middleware Chain → executor → Encode → session.AsyncSend
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"msgpack-rpc/logging"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/rpcerror"
	"msgpack-rpc/transport"
)

// Server accepts TCP sessions and dispatches their messages.
type Server struct {
	registry      *registry.Registry
	middlewares   []middleware.Middleware
	workers       int
	logger        *zap.Logger
	transportOpts []transport.Option

	mu         sync.Mutex
	listener   *transport.Listener
	dispatcher *Dispatcher
	sessions   map[string]*transport.TCPConn
	ready      chan struct{}

	wg       sync.WaitGroup // in-flight messages; Add only under mu
	shutdown atomic.Bool    // set under mu
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithWorkerCount sets the dispatcher pool size.
func WithWorkerCount(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithTransportOptions configures accepted sessions.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Server) { s.transportOpts = append(s.transportOpts, opts...) }
}

// WithRegistry serves the methods of an existing registry.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		registry: registry.New(),
		workers:  1,
		logger:   zap.NewNop(),
		sessions: make(map[string]*transport.TCPConn),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the method table. It is sealed once Serve starts.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Use registers a middleware. Middlewares are applied in the order they are
// added and must be registered before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Method registers fn under name.
func (s *Server) Method(name string, fn registry.Func, opts ...registry.FuncOption) error {
	return s.registry.RegisterFunc(name, fn, append([]registry.FuncOption{registry.WithLogger(s.logger)}, opts...)...)
}

// ListenAndServe listens on address and calls Serve.
func (s *Server) ListenAndServe(address string) error {
	ln, err := transport.ListenTCP(address, s.transportOpts...)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts sessions on ln until Shutdown. It returns nil after Shutdown.
func (s *Server) Serve(ln *transport.Listener) error {
	// Build the dispatcher once at startup, not per session.
	d := NewDispatcher(s.registry,
		WithWorkers(s.workers),
		WithDispatcherLogger(s.logger),
		WithMiddleware(s.middlewares...),
	)

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		d.Stop()
		return errors.New("server already serving")
	}
	s.listener = ln
	s.dispatcher = d
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("serving", zap.Stringer("addr", ln.Addr()), zap.Strings("methods", s.registry.Methods()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handleSession(conn)
	}
}

// Ready is closed once Serve is accepting.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleSession(conn *transport.TCPConn) {
	logger := s.logger.With(zap.String("session", conn.ID()), zap.String("remote", conn.RemoteAddr()))
	ctx := registry.WithSession(context.Background(), conn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		conn.Close()
		return
	}
	s.sessions[conn.ID()] = conn
	d := s.dispatcher
	logger.Debug("session opened")

	// Started under mu so that Shutdown never waits on a connection whose
	// loops are still being launched.
	conn.Start(func(info rpcerror.ErrorInfo, data []byte) {
		if info.HasError() {
			logger.Debug("session closed", zap.Stringer("reason", info))
			s.mu.Lock()
			delete(s.sessions, conn.ID())
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		d.AsyncProcessMessage(ctx, data, func(info rpcerror.ErrorInfo, hasResponse bool, out []byte) {
			defer s.wg.Done()
			if info.HasError() {
				logger.Warn("message rejected", zap.Stringer("error", info))
				return
			}
			if !hasResponse {
				return
			}
			conn.AsyncSend(out, func(sent rpcerror.ErrorInfo) {
				if sent.HasError() {
					logger.Warn("response not sent", zap.Stringer("error", sent))
				}
			})
		})
	})
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag (so the Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new sessions)
//  3. Wait for in-flight messages to finish, up to timeout
//  4. Close every session and wait for its loops to exit
//  5. Stop the dispatcher; after a timeout it only rejects new messages, and
//     its workers exit once the stuck handlers return
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	ln, d := s.listener, s.dispatcher
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.mu.Lock()
	sessions := make([]*transport.TCPConn, 0, len(s.sessions))
	for _, conn := range s.sessions {
		sessions = append(sessions, conn)
	}
	clear(s.sessions)
	s.mu.Unlock()
	for _, conn := range sessions {
		conn.Close()
	}
	for _, conn := range sessions {
		conn.Wait()
	}

	if d != nil {
		if err == nil {
			d.Stop()
		} else {
			d.Close()
		}
	}
	return err
}
