package echoserver

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Server is a TCP server serving the echo/add protocol. A Server is
// configured once with New and started once with Start; run it again by
// creating a fresh instance.
type Server struct {
	addr string
	opts options
}

// New creates an unstarted server for addr (a "host:port" string). New
// performs no I/O; binding happens in Start.
func New(addr string, opt ...Option) *Server {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return &Server{addr: addr, opts: opts}
}

// Start binds the listening socket and launches the accept loop. A bind
// failure (port already in use, bad address) is returned synchronously and
// is never retried. On success the returned Handle controls shutdown.
func (s *Server) Start() (*Handle, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", s.addr)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", s.addr)
	}

	handle := &Handle{
		addr:  listener.Addr(),
		group: new(errgroup.Group),
	}
	handle.running.Store(true)

	workers := newPool(s.opts.poolSize, s.opts.logger)
	s.opts.logger.Info("server started", "addr", listener.Addr(), "workers", s.opts.poolSize)

	handle.group.Go(func() error {
		// Stop accepting first, then drain in-flight handlers.
		defer workers.Close()
		defer listener.Close()
		return s.acceptLoop(listener, workers, &handle.running)
	})

	return handle, nil
}

// acceptLoop accepts connections and submits each to the pool until the
// running flag is cleared. The listening socket is owned by this loop: it is
// accepted from and closed only here. Accept blocks at most pollInterval so
// the flag is observed promptly.
func (s *Server) acceptLoop(listener *net.TCPListener, workers *pool, running *atomic.Bool) error {
	for running.Load() {
		_ = listener.SetDeadline(time.Now().Add(s.opts.pollInterval))

		conn, err := listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.opts.logger.Error("accept error", "error", err)
			continue
		}

		s.opts.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		handler := newConnWithOptions(conn, s.opts)
		if err := workers.Submit(func() { _ = handler.Run() }); err != nil {
			conn.Close()
		}
	}

	s.opts.logger.Info("server stopped", "addr", listener.Addr())
	return nil
}

// Handle controls a started server. It owns the running flag shared with
// the accept loop, not the socket; the accept loop closes the socket on
// exit.
type Handle struct {
	addr    net.Addr
	running atomic.Bool
	group   *errgroup.Group
}

// Stop requests shutdown. Only the first call has any effect; the flag is
// never set back to true. The accept loop observes the flag within one poll
// interval, stops accepting, and lets in-flight connections finish.
func (h *Handle) Stop() {
	h.running.CompareAndSwap(true, false)
}

// Wait blocks until the accept loop has returned and in-flight connections
// have drained. It is safe to call from multiple goroutines and returns
// promptly regardless of how many times Stop was called.
func (h *Handle) Wait() error {
	return h.group.Wait()
}

// Addr returns the bound listen address. Useful when the server was started
// on port 0.
func (h *Handle) Addr() net.Addr {
	return h.addr
}
