// Package pool keeps a fixed set of long-lived TCP connections to the echo
// responder and lends them to workers one at a time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrExhausted is returned by Acquire when every live connection is busy.
	ErrExhausted = errors.New("no connection available")

	// ErrConnectTimeout reports a connection that was not established in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrTransport reports a reset, refused or otherwise failed socket.
	ErrTransport = errors.New("transport error")
)

// Options configures Dial.
type Options struct {
	Host           string
	Port           int
	Size           int
	ConnectTimeout time.Duration
	Logger         *zap.Logger

	// Dialer is optional, a zero net.Dialer is used when nil.
	Dialer *net.Dialer
}

// Task identifies the work a borrowed connection is serving.
type Task struct {
	Worker    int
	Iteration int
}

// Stats summarizes the pool for reporting.
type Stats struct {
	Total        int
	Connected    int
	Busy         int
	Transactions int64
}

// ConnInfo is a point-in-time view of one pooled connection.
type ConnInfo struct {
	ID                int
	Connected         bool
	Busy              bool
	Task              Task
	LastUsedAt        time.Time
	TotalTransactions int64
	LocalAddr         string
	RemoteAddr        string
}

// Pool owns the connections. Acquire and Release are the only places a
// connection changes hands and are serialized by mu, so a connection is never
// lent to two workers at once.
type Pool struct {
	mu     sync.Mutex
	conns  []*Conn
	logger *zap.Logger
}

// Dial opens opts.Size connections concurrently. The pool starts whole or not
// at all: if any connection fails, the ones already open are closed and the
// first error is returned.
func Dial(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	conns := make([]*Conn, opts.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		id := i + 1
		g.Go(func() error {
			dctx := gctx
			if opts.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(gctx, opts.ConnectTimeout)
				defer cancel()
			}
			nc, err := dialer.DialContext(dctx, "tcp", addr)
			if err != nil {
				return classifyDialError(dctx, id, addr, err)
			}
			conns[i] = newConn(id, nc)
			logger.Info("connection established",
				zap.Int("conn_id", id),
				zap.String("local", conns[i].LocalAddr),
				zap.String("remote", conns[i].RemoteAddr))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, c := range conns {
			if c != nil {
				c.nc.Close()
			}
		}
		logger.Error("pool initialization failed", zap.String("addr", addr), zap.Error(err))
		return nil, err
	}

	return &Pool{conns: conns, logger: logger}, nil
}

func classifyDialError(ctx context.Context, id int, addr string, err error) error {
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("connection %d to %s: %w: %v", id, addr, ErrConnectTimeout, err)
	}
	return fmt.Errorf("connection %d to %s: %w: %v", id, addr, ErrTransport, err)
}

// Acquire lends the first connected, idle connection and marks it busy. It
// never waits: ErrExhausted is returned at once when nothing qualifies.
func (p *Pool) Acquire(task Task) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.conns {
		if c.connected && !c.busy {
			c.busy = true
			c.task = task
			c.lastUsedAt = time.Now()
			return c, nil
		}
	}
	return nil, ErrExhausted
}

// Release returns a connection to the pool. It must be called exactly once
// for every successful Acquire, on error and timeout paths too.
func (p *Pool) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.lookup(id); c != nil {
		c.busy = false
		c.task = Task{}
	}
}

// MarkDisconnected closes a connection after a transport failure. It stays
// out of rotation for the rest of the run; the pool does not reconnect.
func (p *Pool) MarkDisconnected(id int, cause error) {
	p.mu.Lock()
	c := p.lookup(id)
	if c == nil || !c.connected {
		p.mu.Unlock()
		return
	}
	c.connected = false
	p.mu.Unlock()

	c.nc.Close()
	p.logger.Error("connection lost", zap.Int("conn_id", id), zap.String("remote", c.RemoteAddr), zap.Error(cause))
}

// CloseAll closes every connection that is still connected and returns once
// all of them are closed.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	var open []*Conn
	for _, c := range p.conns {
		if c.connected {
			c.connected = false
			open = append(open, c)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(open))
	for i, c := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.nc.Close(); err != nil {
				errs[i] = fmt.Errorf("close connection %d: %w", c.ID, err)
			}
			p.logger.Info("connection closed", zap.Int("conn_id", c.ID), zap.String("remote", c.RemoteAddr))
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Stats returns connection counts and the sum of completed transactions.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.conns)}
	for _, c := range p.conns {
		if c.connected {
			s.Connected++
		}
		if c.busy {
			s.Busy++
		}
		s.Transactions += c.transactions.Load()
	}
	return s
}

// Conns returns a snapshot of every connection, for diagnostics.
func (p *Pool) Conns() []ConnInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]ConnInfo, 0, len(p.conns))
	for _, c := range p.conns {
		infos = append(infos, ConnInfo{
			ID:                c.ID,
			Connected:         c.connected,
			Busy:              c.busy,
			Task:              c.task,
			LastUsedAt:        c.lastUsedAt,
			TotalTransactions: c.transactions.Load(),
			LocalAddr:         c.LocalAddr,
			RemoteAddr:        c.RemoteAddr,
		})
	}
	return infos
}

func (p *Pool) lookup(id int) *Conn {
	if id < 1 || id > len(p.conns) {
		return nil
	}
	return p.conns[id-1]
}
