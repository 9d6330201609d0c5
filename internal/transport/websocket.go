package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketOptions configures a WebSocketDialer.
type WebSocketOptions struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval enables client pings. A connection that sees no pong
	// for three intervals is treated as dead. Zero disables pings.
	PingInterval time.Duration
	// SendBuffer bounds the frames queued per connection.
	SendBuffer int
	Logger     *zap.SugaredLogger
}

// WebSocketDialer dials the analysis server over gorilla/websocket. Each
// connection has a reader goroutine, a writer goroutine draining a bounded
// queue, and an optional pinger.
type WebSocketDialer struct {
	opts   WebSocketOptions
	dialer websocket.Dialer
	nextID atomic.Uint64
}

// NewWebSocketDialer returns a dialer for opts.URL.
func NewWebSocketDialer(opts WebSocketOptions) *WebSocketDialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &WebSocketDialer{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial starts a connection attempt and returns its handle at once.
func (d *WebSocketDialer) Dial(ctx context.Context, h Handler) Conn {
	ctx, cancel := context.WithCancel(ctx)
	id := d.nextID.Add(1)
	c := &wsConn{
		id:       id,
		opts:     d.opts,
		log:      d.opts.Logger.With("conn", id),
		out:      make(chan []byte, d.opts.SendBuffer),
		done:     make(chan struct{}),
		closeReq: make(chan struct{}),
		flushed:  make(chan struct{}),
		cancel:   cancel,
	}
	go c.run(ctx, &d.dialer, h)
	return c
}

type wsConn struct {
	id   uint64
	opts WebSocketOptions
	log  *zap.SugaredLogger
	out  chan []byte
	// done is closed when the reader stops; closeReq asks the writer to
	// flush and send a close frame, and flushed reports that it has.
	done     chan struct{}
	closeReq chan struct{}
	flushed  chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	ws      *websocket.Conn
	open    bool
	closing bool
	once    sync.Once
}

func (c *wsConn) ID() uint64 { return c.id }

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	open := c.open && !c.closing
	c.mu.Unlock()
	if !open {
		return ErrClosed
	}

	select {
	case <-c.done:
		return ErrClosed
	case c.out <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close flushes frames already queued, sends a close frame and closes the
// socket. It waits at most one write timeout for the flush.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws == nil {
		return nil
	}

	close(c.closeReq)
	t := time.NewTimer(c.opts.WriteTimeout)
	defer t.Stop()
	select {
	case <-c.flushed:
	case <-c.done:
	case <-t.C:
		c.log.Debug("websocket flush timed out")
	}
	return ws.Close()
}

// shutdown stops the writer and pinger. Safe to call more than once.
func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) closedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, h Handler) {
	defer c.cancel()
	defer c.shutdown()

	ws, resp, err := dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.closedLocally() {
			h.OnClose(c, nil)
			return
		}
		h.OnClose(c, &Error{Op: "dial", Err: err})
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		h.OnClose(c, nil)
		return
	}
	c.ws = ws
	c.open = true
	c.mu.Unlock()

	c.log.Debugw("websocket open", "url", c.opts.URL)
	h.OnOpen(c)

	go c.writer(ws)
	if c.opts.PingInterval > 0 {
		deadline := 3 * c.opts.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(deadline))
		})
		go c.pinger(ws)
	}

	err = c.reader(ws, h)

	c.shutdown()
	_ = ws.Close()
	if c.closedLocally() {
		h.OnClose(c, nil)
		return
	}
	h.OnClose(c, &Error{Op: "read", Err: err})
}

func (c *wsConn) reader(ws *websocket.Conn, h Handler) error {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		h.OnMessage(c, data)
	}
}

func (c *wsConn) writer(ws *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case <-c.closeReq:
			c.flush(ws)
			return
		case data := <-c.out:
			if err := c.write(ws, data); err != nil {
				// Closing the socket unblocks the reader, which reports the
				// failure.
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *wsConn) write(ws *websocket.Conn, data []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := ws.WriteMessage(websocket.TextMessage, data)
	if err != nil && !IsExpectedClose(err) && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Warnw("websocket write failed", "error", err)
	}
	return err
}

// flush writes whatever is still queued, then the close frame.
func (c *wsConn) flush(ws *websocket.Conn) {
	defer close(c.flushed)
	for {
		select {
		case data := <-c.out:
			if err := c.write(ws, data); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}

func (c *wsConn) pinger(ws *websocket.Conn) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
