// Package proxy implements the acceptor and per-connection worker: the
// listening socket, the worker-pool concurrency bound, and the request/
// response relay between a client connection and the node chosen by the
// scheduler.
package proxy

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/scheduler"
)

// backlog is the minimum pending-connection queue length for the listener.
// New does not pass it to the listener: Go's net package sizes the queue
// from the operating system's limit (net.core.somaxconn on Linux).
const backlog = 100

// readTimeout bounds how long a worker waits for a client's request.
const readTimeout = 5 * time.Second

// Server is the accept loop: it owns the listening socket and bounds how
// many connections are served concurrently. The cap is expressed via
// golang.org/x/net/netutil.LimitListener, which blocks Accept itself
// once max_threads connections are in flight, rather than spin-waiting
// on a thread-count poll.
type Server struct {
	ln        net.Listener
	scheduler *scheduler.Scheduler
	logger    *zap.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New binds a listener on addr (host:port) with SO_REUSEADDR set and the
// given worker cap, and returns a Server ready to Serve.
func New(addr string, maxThreads int, sched *scheduler.Scheduler, logger *zap.Logger) (*Server, error) {
	lc := net.ListenConfig{
		Control: setReuseAddr,
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errs.NewIOError("listen", err)
	}

	limited := netutil.LimitListener(ln, maxThreads)

	return &Server{
		ln:        limited,
		scheduler: sched,
		logger:    logger,
		shutdown:  make(chan struct{}),
	}, nil
}

// Serve accepts connections until Close is called, dispatching each to its
// own worker goroutine. Serve returns once the listener is closed and all
// in-flight workers have finished.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		n := s.scheduler.Choose()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w := &worker{conn: conn, node: n, scheduler: s.scheduler, logger: s.logger}
			w.serve()
		}()
	}
}

// Close stops accepting new connections and returns without waiting;
// Serve then waits for in-flight workers to finish serving their current
// request before it returns.
func (s *Server) Close() error {
	close(s.shutdown)
	return s.ln.Close()
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// setReuseAddr sets SO_REUSEADDR on the listening socket before bind, so a
// restarted proxy can rebind a port still in TIME_WAIT.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
