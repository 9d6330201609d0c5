// Package transport carries protocol frames to and from the analysis
// server. It is event driven: Dial returns immediately and the outcome is
// reported later through a Handler. Handlers are called from transport
// goroutines and must hand the work to their own executor.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send on a connection that is closed or not yet
// open.
var ErrClosed = errors.New("transport: connection not open")

// ErrBufferFull is returned by Send when the outbound buffer is full and
// the frame was dropped.
var ErrBufferFull = errors.New("transport: send buffer full")

// Handler receives the events of one connection. For every Conn returned
// by Dial, OnClose is called exactly once; OnOpen is called before it if
// the handshake succeeded. OnClose receives a nil error when the close was
// requested through Conn.Close.
type Handler interface {
	OnOpen(c Conn)
	OnMessage(c Conn, data []byte)
	OnClose(c Conn, err error)
}

// Conn is one connection attempt.
type Conn interface {
	// ID is unique per Dialer and increases with every Dial.
	ID() uint64

	// Send queues a text frame. It never blocks.
	Send(data []byte) error

	// Close tears the connection down, or abandons the handshake if it is
	// still in progress. It is idempotent.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, h Handler) Conn
}

// Error is a transport failure: a refused dial, a reset, a failed read or
// write.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsExpectedClose reports whether err is a normal consequence of a
// connection ending: EOF, a closed connection, a broken pipe or reset, or
// a normal websocket close.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
