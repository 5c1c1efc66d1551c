package pool

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/studiowebux/echotest/internal/frame"
)

// ErrResponseTimeout reports that no response frame arrived before the deadline.
var ErrResponseTimeout = errors.New("response timeout")

// Conn is one pooled connection. Its I/O methods may only be used by the
// worker currently holding it.
type Conn struct {
	ID         int
	LocalAddr  string
	RemoteAddr string

	nc net.Conn
	fr *frame.Reader
	fw *frame.Writer

	// guarded by Pool.mu
	connected  bool
	busy       bool
	task       Task
	lastUsedAt time.Time

	transactions atomic.Int64
}

func newConn(id int, nc net.Conn) *Conn {
	return &Conn{
		ID:         id,
		LocalAddr:  nc.LocalAddr().String(),
		RemoteAddr: nc.RemoteAddr().String(),
		nc:         nc,
		fr:         frame.NewReader(nc),
		fw:         frame.NewWriter(nc),
		connected:  true,
	}
}

// Send frames body and writes it before deadline.
func (c *Conn) Send(body []byte, deadline time.Time) error {
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := c.fw.WriteFrame(body); err != nil {
		if errors.Is(err, frame.ErrFraming) {
			return err
		}
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

// Receive waits for the next complete frame until deadline. A partial frame
// left by a timeout stays buffered for the next call.
func (c *Conn) Receive(deadline time.Time) ([]byte, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	body, err := c.fr.ReadFrame()
	if err == nil {
		return body, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, ErrResponseTimeout
	}
	if errors.Is(err, frame.ErrFraming) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: read: %v", ErrTransport, err)
}

// Complete counts one finished request/response exchange.
func (c *Conn) Complete() {
	c.transactions.Add(1)
}

// Transactions returns the number of completed exchanges.
func (c *Conn) Transactions() int64 {
	return c.transactions.Load()
}
