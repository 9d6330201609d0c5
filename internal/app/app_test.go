package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/large-farva/attention-stream/internal/config"
	"github.com/large-farva/attention-stream/internal/transport"
)

type running struct {
	app    *App
	dialer *transport.FakeDialer
	base   string
	errCh  chan error
}

func start(t *testing.T) *running {
	t.Helper()
	cfg := config.Default()
	cfg.Synthetic.Seed = 11

	r := &running{dialer: &transport.FakeDialer{}, errCh: make(chan error, 1)}
	r.app = New(Options{
		Logger: zaptest.NewLogger(t),
		Cfg:    cfg,
		Bind:   "127.0.0.1:0",
		Dialer: r.dialer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { r.errCh <- r.app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(10 * time.Second):
			t.Error("app did not stop")
		}
	})

	select {
	case <-r.app.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not start listening")
	}
	r.base = "http://" + r.app.Addr()

	require.Eventually(t, func() bool {
		return r.app.Session().Sync(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	return r
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthAndStatus(t *testing.T) {
	r := start(t)

	code, body := get(t, r.base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", string(body))

	code, body = get(t, r.base+"/api/status")
	require.Equal(t, http.StatusOK, code)
	var status struct {
		Name    string `json:"name"`
		Server  string `json:"server"`
		Session struct {
			SessionID string `json:"session_id"`
			Status    struct {
				State string `json:"state"`
			} `json:"status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "attention-stream", status.Name)
	assert.Equal(t, "ws://localhost:9001/", status.Server)
	assert.Equal(t, r.app.Session().ID(), status.Session.SessionID)
	assert.Equal(t, "connecting", status.Session.Status.State)
}

func TestPauseResume(t *testing.T) {
	r := start(t)

	code, out := post(t, r.base+"/api/pause", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "session paused", out["message"])

	_, out = post(t, r.base+"/api/pause", "")
	assert.Equal(t, "already paused", out["message"])

	_, out = post(t, r.base+"/api/resume", "")
	assert.Equal(t, "session resumed", out["message"])

	code, _ = get(t, r.base+"/api/resume")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestRetryOnlyAfterFailure(t *testing.T) {
	r := start(t)
	code, out := post(t, r.base+"/api/retry", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, out["ok"])
}

func TestEndStopsDaemon(t *testing.T) {
	r := start(t)

	code, out := post(t, r.base+"/api/end", `{"reason":"user_clicked_end_button"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])

	select {
	case err := <-r.errCh:
		assert.NoError(t, err)
		r.errCh <- err
	case <-time.After(10 * time.Second):
		t.Fatal("daemon still running after end")
	}
	assert.True(t, r.app.Session().Snapshot().Closed)
}

func TestWarningsAndMetrics(t *testing.T) {
	r := start(t)

	code, body := get(t, r.base+"/api/warnings")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"warnings":[]}`, string(body))

	code, body = get(t, r.base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "attention_stream_connection_state")
}

func TestLogsAreKept(t *testing.T) {
	r := start(t)
	code, body := get(t, r.base+"/api/logs?level=info")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Listening")
}

func TestLogsFilterByComponent(t *testing.T) {
	r := start(t)

	code, body := get(t, r.base+"/api/logs?component=app")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Listening")

	code, body = get(t, r.base+"/api/logs?component=conn,capture&level=error")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(body), "Listening")
	assert.Contains(t, string(body), `"logs":[]`)
}

func TestObserverGreeting(t *testing.T) {
	r := start(t)

	c, _, err := websocket.DefaultDialer.Dial("ws://"+r.app.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)

	var hello map[string]any
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, r.app.Session().ID(), hello["session_id"])
}

func TestListenFailureClosesSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := New(Options{
		Logger: zaptest.NewLogger(t),
		Cfg:    config.Default(),
		Bind:   ln.Addr().String(),
		Dialer: &transport.FakeDialer{},
	})
	assert.Error(t, a.Run(context.Background()))
	assert.True(t, a.Session().Snapshot().Closed)
}
