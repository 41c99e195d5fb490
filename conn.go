// Package chat implements a minimal chat service over raw TCP sockets:
// accounts, sessions, per-recipient message queues, and a background
// delivery loop, all speaking the private length-framed binary protocol of
// package wire.
package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/chat/wire"
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is the server-side send state of one client connection. It owns the
// exclusive-send guard: all packets of one logical message are written in a
// single critical section, so a response from the request handler and a
// pushed message from the delivery loop can never interleave their packets
// on the socket.
type Conn struct {
	id     string
	raw    net.Conn
	logger Logger

	writeTimeout time.Duration

	mu     sync.Mutex
	nextID uint16
	closed atomic.Bool
}

func newConn(raw net.Conn, logger Logger, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		raw:          raw,
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

// ID returns the opaque token identifying this connection in logs.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.raw.RemoteAddr()
}

// Send encodes one logical message and writes every one of its packets
// under the exclusive-send guard. The message id comes from the
// connection's own monotonically increasing counter (wrapping at uint16 is
// allowed by the protocol). A write failure closes the connection and is
// returned to the caller; for the delivery loop that triggers a requeue.
func (c *Conn) Send(op wire.Op, args map[string]string) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	packets, err := wire.Encode(op, c.nextID, args)
	if err != nil {
		return err
	}
	c.nextID++

	for _, packet := range packets {
		if c.writeTimeout > 0 {
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if _, err := c.raw.Write(packet); err != nil {
			c.logger.Debug("write failed", "conn_id", c.id, "op", op.String(), "error", err)
			c.closed.Store(true)
			c.raw.Close()
			return errors.Wrapf(err, "send %s", op)
		}
	}
	return nil
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// IsClosed returns true once the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
