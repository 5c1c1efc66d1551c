package responder

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/frame"
	"github.com/studiowebux/echotest/internal/metrics"
)

const (
	DefaultMaxConnections = 200
	DefaultIdleTimeout    = 30 * time.Second

	acceptRetryDelay = 50 * time.Millisecond
)

// Options configures a Server.
type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Server
}

// Server accepts connections and runs the echo protocol on each of them.
type Server struct {
	handler        *Handler
	logger         *zap.Logger
	metrics        *metrics.Server
	idleTimeout    time.Duration
	maxConnections int

	slots chan struct{}
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	stopD syncx.DoneChan
}

// NewServer creates a Server. Zero options take their defaults.
func NewServer(opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Server{
		handler:        NewHandler(opts.Logger, opts.Metrics),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		idleTimeout:    opts.IdleTimeout,
		maxConnections: opts.MaxConnections,
		slots:          make(chan struct{}, opts.MaxConnections),
		conns:          make(map[net.Conn]struct{}),
		stopD:          syncx.NewDoneChan(),
	}
}

// StopD is signaled once Serve has returned and every connection is closed.
func (s *Server) StopD() syncx.DoneChanR {
	return s.stopD.R()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts on ln until ctx is done or ln fails. On return ln and every
// accepted connection are closed. Connections over MaxConnections are closed
// right after accept.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.stopD.SetDone()

	stopping := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopping:
		}
		ln.Close()
		s.closeAll()
	}()

	s.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.maxConnections),
		zap.Duration("idle_timeout", s.idleTimeout))

	err := s.acceptLoop(ctx, ln)
	close(stopping)
	s.wg.Wait()

	s.logger.Info("stopped accepting", zap.String("addr", ln.Addr().String()))
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept failed, retrying", zap.Error(err))
				time.Sleep(acceptRetryDelay)
				continue
			}
			return err
		}

		select {
		case s.slots <- struct{}{}:
		default:
			s.logger.Warn("connection limit reached, closing",
				zap.String("remote", nc.RemoteAddr().String()),
				zap.Int("max_connections", s.maxConnections))
			s.metrics.ConnRejected()
			nc.Close()
			continue
		}

		if !s.track(nc) {
			<-s.slots
			nc.Close()
			return nil
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

// track registers nc unless the server is already shutting down.
func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, nc)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for nc := range conns {
		nc.Close()
	}
}

// serveConn runs the frame loop of one connection until the peer goes away,
// the idle timeout expires or the stream becomes unreadable.
func (s *Server) serveConn(nc net.Conn) {
	remote := nc.RemoteAddr().String()
	logger := s.logger.With(zap.String("remote", remote))

	defer func() {
		nc.Close()
		s.untrack(nc)
		s.metrics.ConnClosed()
		<-s.slots
		s.wg.Done()
	}()

	s.metrics.ConnOpened()
	logger.Info("connection established")

	fr := frame.NewReader(idleReader{nc: nc, timeout: s.idleTimeout})
	fw := frame.NewWriter(nc)
	for {
		body, err := fr.ReadFrame()
		if err != nil {
			s.readFailed(logger, nc, fw, err)
			return
		}
		logger.Debug("frame received", zap.Int("len", len(body)))

		resp := s.handler.Respond(body)

		nc.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		if err := fw.WriteFrame(resp); err != nil {
			logger.Error("failed to write response", zap.Error(err))
			return
		}
		logger.Debug("frame sent", zap.Int("len", len(resp)))
	}
}

// idleReader pushes the read deadline forward before every read, so the idle
// timeout only expires when no bytes arrive at all, even inside a frame.
type idleReader struct {
	nc      net.Conn
	timeout time.Duration
}

func (r idleReader) Read(p []byte) (int, error) {
	if err := r.nc.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.nc.Read(p)
}

func (s *Server) readFailed(logger *zap.Logger, nc net.Conn, fw *frame.Writer, err error) {
	switch {
	case errors.Is(err, frame.ErrFraming):
		// The length header is garbage, so the stream cannot be resynchronized.
		resp := s.handler.Reject(nil, err)
		nc.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		if werr := fw.WriteFrame(resp); werr != nil {
			logger.Error("failed to write response", zap.Error(werr))
		}
		logger.Info("connection closed after malformed frame")
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.metrics.IdleTimeout()
		logger.Info("connection idle, closing", zap.Duration("idle_timeout", s.idleTimeout))
	case errors.Is(err, io.EOF):
		logger.Info("connection closed")
	case errors.Is(err, io.ErrUnexpectedEOF):
		logger.Warn("connection closed inside a frame", zap.Error(err))
	case errors.Is(err, net.ErrClosed):
		logger.Debug("connection closed by shutdown")
	default:
		logger.Error("connection error", zap.Error(err))
	}
}
