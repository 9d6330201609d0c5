package transport

import (
	"context"
	"sync"
)

// FakeDialer is an in-memory Dialer for tests. Nothing happens on a
// FakeConn until the test calls Open, Receive or Drop on it.
type FakeDialer struct {
	mu    sync.Mutex
	conns []*FakeConn
}

// Dial records a new connection attempt.
func (d *FakeDialer) Dial(_ context.Context, h Handler) Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &FakeConn{id: uint64(len(d.conns) + 1), h: h}
	d.conns = append(d.conns, c)
	return c
}

// Dials returns how many connection attempts have been made.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent connection attempt, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn returns the i-th connection attempt, counting from 1.
func (d *FakeDialer) Conn(i int) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i-1]
}

// FakeConn is a connection attempt made through a FakeDialer. Close only
// records the call; it does not deliver OnClose.
type FakeConn struct {
	id uint64
	h  Handler

	mu      sync.Mutex
	open    bool
	closed  bool
	dropped bool
	sent    [][]byte
	// SendErr, if set, is returned by Send instead of recording the frame.
	SendErr error
}

func (c *FakeConn) ID() uint64 { return c.id }

func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed || c.dropped {
		return ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Open completes the handshake.
func (c *FakeConn) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.h.OnOpen(c)
}

// Receive delivers a server message.
func (c *FakeConn) Receive(data string) {
	c.h.OnMessage(c, []byte(data))
}

// Drop ends the connection from the remote side with err.
func (c *FakeConn) Drop(err error) {
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	c.mu.Unlock()
	c.h.OnClose(c, err)
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of the frames sent so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}
