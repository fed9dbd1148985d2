// Package wsgate accepts room WebSocket connections and pumps frames between
// them and the coordinator.
package wsgate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Hub receives connection lifecycle and inbound frames.
type Hub interface {
	Connect(p registry.Peer) error
	Dispatch(p registry.Peer, raw []byte) error
	Disconnect(p registry.Peer) error
}

type Options struct {
	OriginPatterns []string
	ReadLimit      int64
	SendBuffer     int
	MessageRate    float64
	MessageBurst   int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MessageRate <= 0 {
		o.MessageRate = 20
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 40
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

type Gateway struct {
	hub  Hub
	opts Options
	rec  metrics.Recorder
}

func New(hub Hub, opts Options, rec metrics.Recorder) *Gateway {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Gateway{hub: hub, opts: opts.withDefaults(), rec: rec}
}

// UserID extracts the caller identity from the handshake.
func UserID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := UserID(r)
	if user == "" {
		http.Error(w, "missing user id", http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("user_id", user), zap.Error(err))
		return
	}
	ws.SetReadLimit(g.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := newConn(ws, uuid.NewString(), user, g.opts)
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.pingLoop(ctx)
	defer c.wg.Wait()
	defer cancel()

	if err := g.hub.Connect(c); err != nil {
		c.shutdown(websocket.StatusGoingAway, "shutting down")
		return
	}
	obslog.L().Info("ws_connected", zap.String("conn_id", c.id), zap.String("user_id", user))

	status, reason := g.readLoop(ctx, c)
	_ = g.hub.Disconnect(c)
	c.shutdown(status, reason)
	obslog.L().Info("ws_disconnected", zap.String("conn_id", c.id), zap.String("user_id", user), zap.String("reason", reason))
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn) (websocket.StatusCode, string) {
	limiter := rate.NewLimiter(rate.Limit(g.opts.MessageRate), g.opts.MessageBurst)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if s := websocket.CloseStatus(err); s != -1 {
				return websocket.StatusNormalClosure, "peer closed"
			}
			if errors.Is(err, context.Canceled) {
				return websocket.StatusGoingAway, "shutting down"
			}
			return websocket.StatusInternalError, "read failed"
		}
		if typ != websocket.MessageText {
			g.rec.RecordMessageDropped("binary")
			continue
		}
		if !limiter.Allow() {
			g.rec.RecordMessageDropped("rate_limited")
			obslog.L().Debug("ws_rate_limited", zap.String("conn_id", c.id))
			continue
		}
		if err := g.hub.Dispatch(c, data); err != nil {
			return websocket.StatusGoingAway, "shutting down"
		}
	}
}

// Conn is one accepted connection. Send never blocks: frames go through a
// buffered channel drained by the writer goroutine.
type Conn struct {
	id   string
	user string
	ws   *websocket.Conn
	opts Options

	out    chan []byte
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newConn(ws *websocket.Conn, id, user string, opts Options) *Conn {
	return &Conn{
		id:     id,
		user:   user,
		ws:     ws,
		opts:   opts,
		out:    make(chan []byte, opts.SendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.user }

// Send queues msg for delivery. A full buffer closes the connection.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		go c.shutdown(websocket.StatusTryAgainLater, "slow consumer")
		return ErrSlowConsumer
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				go c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				go c.shutdown(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Conn) shutdown(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close(code, reason)
	})
}
