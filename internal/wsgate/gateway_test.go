package wsgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// echoHub records lifecycle calls and echoes every frame back to its sender.
type echoHub struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	frames       []string
	users        []string
}

func (h *echoHub) Connect(p registry.Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, p.ID())
	h.users = append(h.users, p.UserID())
	return nil
}

func (h *echoHub) Dispatch(p registry.Peer, raw []byte) error {
	h.mu.Lock()
	h.frames = append(h.frames, string(raw))
	h.mu.Unlock()
	return p.Send(raw)
}

func (h *echoHub) Disconnect(p registry.Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, p.ID())
	return nil
}

func (h *echoHub) snapshot() (connected, disconnected, frames, users []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.connected...),
		append([]string(nil), h.disconnected...),
		append([]string(nil), h.frames...),
		append([]string(nil), h.users...)
}

func startGateway(t *testing.T, opts Options) (*echoHub, string) {
	t.Helper()
	hub := &echoHub{}
	srv := httptest.NewServer(New(hub, opts, nil))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hdr http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	require.NoError(t, err)
	return c
}

func TestGateway_EchoAndLifecycle(t *testing.T) {
	hub, url := startGateway(t, Options{})
	c := dial(t, url+"?userId=alice", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"REQUEST_MATCH"}`)))
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, `{"type":"REQUEST_MATCH"}`, string(data))

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool {
		_, disc, _, _ := hub.snapshot()
		return len(disc) == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn, disc, _, users := hub.snapshot()
	assert.Equal(t, conn, disc)
	assert.Equal(t, []string{"alice"}, users)
}

func TestGateway_HeaderTakesPrecedence(t *testing.T) {
	hub, url := startGateway(t, Options{})
	c := dial(t, url+"?userId=query-user", http.Header{"X-User-Id": []string{" header-user "}})
	defer c.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		_, _, _, users := hub.snapshot()
		return len(users) == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, _, _, users := hub.snapshot()
	assert.Equal(t, "header-user", users[0])
}

func TestGateway_RejectsAnonymous(t *testing.T) {
	hub, url := startGateway(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	conn, _, _, _ := hub.snapshot()
	assert.Empty(t, conn)
}

func TestGateway_RateLimitsInbound(t *testing.T) {
	hub, url := startGateway(t, Options{MessageRate: 0.001, MessageBurst: 2})
	c := dial(t, url+"?userId=bob", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"OFFER_DRAW"}`)))
	}
	_ = c.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool {
		_, disc, _, _ := hub.snapshot()
		return len(disc) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, _, frames, _ := hub.snapshot()
	assert.Len(t, frames, 2)
}

func TestConn_SendAfterShutdown(t *testing.T) {
	c := &Conn{closed: make(chan struct{}), out: make(chan []byte, 1)}
	require.NoError(t, c.Send([]byte("queued")))
	close(c.closed)
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClosed)
	assert.Equal(t, "queued", string(<-c.out))
}

func TestUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?userId=%20dave%20", nil)
	assert.Equal(t, "dave", UserID(r))
	r.Header.Set("X-User-Id", "erin")
	assert.Equal(t, "erin", UserID(r))
	assert.Empty(t, UserID(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}
