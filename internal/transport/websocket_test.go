package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type event struct {
	kind string
	data string
	err  error
}

// chanHandler forwards transport callbacks to a channel.
type chanHandler struct {
	events chan event
}

func newChanHandler() *chanHandler {
	return &chanHandler{events: make(chan event, 64)}
}

func (h *chanHandler) OnOpen(Conn) { h.events <- event{kind: "open"} }
func (h *chanHandler) OnMessage(_ Conn, data []byte) {
	h.events <- event{kind: "message", data: string(data)}
}
func (h *chanHandler) OnClose(_ Conn, err error) { h.events <- event{kind: "close", err: err} }

func (h *chanHandler) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-h.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return event{}
	}
}

// echoServer upgrades every request, replies to each text frame with
// "ack:<frame>", and exposes the server-side connections.
func echoServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, append([]byte("ack:"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSendReceiveClose(t *testing.T) {
	srv, _ := echoServer(t)
	d := NewWebSocketDialer(WebSocketOptions{URL: wsURL(srv), Logger: zaptest.NewLogger(t).Sugar()})
	h := newChanHandler()

	c := d.Dial(context.Background(), h)
	assert.Equal(t, uint64(1), c.ID())
	require.Equal(t, "open", h.next(t).kind)

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))
	assert.Equal(t, event{kind: "message", data: "ack:one"}, h.next(t))
	assert.Equal(t, event{kind: "message", data: "ack:two"}, h.next(t))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	e := h.next(t)
	assert.Equal(t, "close", e.kind)
	assert.NoError(t, e.err, "local close must not be reported as a failure")

	assert.ErrorIs(t, c.Send([]byte("late")), ErrClosed)
}

func TestWebSocketRemoteClose(t *testing.T) {
	srv, conns := echoServer(t)
	d := NewWebSocketDialer(WebSocketOptions{URL: wsURL(srv)})
	h := newChanHandler()

	d.Dial(context.Background(), h)
	require.Equal(t, "open", h.next(t).kind)

	server := <-conns
	_ = server.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	_ = server.Close()

	e := h.next(t)
	require.Equal(t, "close", e.kind)
	var te *Error
	require.ErrorAs(t, e.err, &te)
	assert.Equal(t, "read", te.Op)
	assert.True(t, IsExpectedClose(e.err))
}

func TestWebSocketDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := NewWebSocketDialer(WebSocketOptions{URL: "ws://" + addr + "/", HandshakeTimeout: time.Second})
	h := newChanHandler()
	c := d.Dial(context.Background(), h)

	e := h.next(t)
	require.Equal(t, "close", e.kind)
	var te *Error
	require.ErrorAs(t, e.err, &te)
	assert.Equal(t, "dial", te.Op)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
}

func TestWebSocketCloseDuringHandshake(t *testing.T) {
	// A listener that accepts but never answers the upgrade.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	d := NewWebSocketDialer(WebSocketOptions{URL: "ws://" + ln.Addr().String() + "/", HandshakeTimeout: 10 * time.Second})
	h := newChanHandler()
	c := d.Dial(context.Background(), h)
	require.NoError(t, c.Close())

	e := h.next(t)
	assert.Equal(t, "close", e.kind)
	assert.NoError(t, e.err)
}

func TestWebSocketIDsIncrease(t *testing.T) {
	srv, _ := echoServer(t)
	d := NewWebSocketDialer(WebSocketOptions{URL: wsURL(srv)})

	h1, h2 := newChanHandler(), newChanHandler()
	c1 := d.Dial(context.Background(), h1)
	c2 := d.Dial(context.Background(), h2)
	assert.Less(t, c1.ID(), c2.ID())

	_ = c1.Close()
	_ = c2.Close()
}

func TestIsExpectedClose(t *testing.T) {
	expected := []error{
		nil,
		io.EOF,
		net.ErrClosed,
		context.Canceled,
		&Error{Op: "read", Err: &websocket.CloseError{Code: websocket.CloseNormalClosure}},
		&Error{Op: "read", Err: &websocket.CloseError{Code: websocket.CloseGoingAway}},
		&net.OpError{Op: "read", Err: syscall.ECONNRESET},
		&net.OpError{Op: "write", Err: syscall.EPIPE},
	}
	for _, err := range expected {
		assert.True(t, IsExpectedClose(err), "%v", err)
	}

	unexpected := []error{
		errors.New("boom"),
		&Error{Op: "read", Err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}},
		&Error{Op: "dial", Err: syscall.ECONNREFUSED},
	}
	for _, err := range unexpected {
		assert.False(t, IsExpectedClose(err), "%v", err)
	}
}
