// Package coordinator is the single entry point for room traffic.
//
// All room and registry mutation happens on the goroutine running Run. Connections
// post events with Connect, Dispatch and Disconnect; store I/O runs in helper
// goroutines that post their completions back into the loop.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/queue"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/session"
	"go.uber.org/zap"
)

// ErrStopped is returned by posting methods once Run has exited.
var ErrStopped = errors.New("coordinator stopped")

// storeTimeout bounds one helper-goroutine store call.
const storeTimeout = 5 * time.Second

// Store is the part of the durable store the coordinator talks to directly.
type Store interface {
	CreateGame(ctx context.Context, g domain.NewGame) (string, error)
	AttachSecondPlayer(ctx context.Context, id, userID string, at time.Time) error
	LoadGame(ctx context.Context, id string) (*domain.Game, error)
}

// Publisher accepts write-behind jobs without blocking.
type Publisher interface {
	Publish(j queue.Job)
}

type Config struct {
	Budget       time.Duration
	TickInterval time.Duration
	ReapAfter    time.Duration
	ReapInterval time.Duration
	EventBuffer  int
}

type Deps struct {
	Registry  *registry.Registry
	Store     Store
	Publisher Publisher
	Catalog   *msgcat.Catalog
	Recorder  metrics.Recorder
	Now       func() time.Time
	NewID     func() string
}

type resident struct {
	room      *session.Room
	idleSince time.Time
}

type Coordinator struct {
	cfg   Config
	reg   *registry.Registry
	store Store
	pub   Publisher
	cat   *msgcat.Catalog
	rec   metrics.Recorder
	now   func() time.Time
	newID func() string

	events chan event
	done   chan struct{}
	once   sync.Once
	bg     sync.WaitGroup

	// loop-owned state
	conns     map[string]registry.Peer
	rooms     map[string]*resident
	pendingID string
	loads     map[string][]registry.Peer // room id -> connections waiting on a store load
}

func New(cfg Config, d Deps) *Coordinator {
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if d.Registry == nil {
		d.Registry = registry.New()
	}
	if d.Recorder == nil {
		d.Recorder = metrics.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Coordinator{
		cfg:    cfg,
		reg:    d.Registry,
		store:  d.Store,
		pub:    d.Publisher,
		cat:    d.Catalog,
		rec:    d.Recorder,
		now:    d.Now,
		newID:  d.NewID,
		events: make(chan event, cfg.EventBuffer),
		done:   make(chan struct{}),
		conns:  make(map[string]registry.Peer),
		rooms:  make(map[string]*resident),
		loads:  make(map[string][]registry.Peer),
	}
}

type event interface{ isEvent() }

type connectEvent struct{ peer registry.Peer }
type disconnectEvent struct{ peer registry.Peer }
type messageEvent struct {
	peer registry.Peer
	raw  []byte
}
type loadedEvent struct {
	roomID string
	game   *domain.Game
	err    error
}
type queryEvent struct{ fn func() }

func (connectEvent) isEvent()    {}
func (disconnectEvent) isEvent() {}
func (messageEvent) isEvent()    {}
func (loadedEvent) isEvent()     {}
func (queryEvent) isEvent()      {}

// Run processes events until ctx ends. It must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()
	reap := time.NewTicker(c.cfg.ReapInterval)
	defer reap.Stop()
	defer c.stop()

	obslog.L().Info("coordinator_started",
		zap.Duration("budget", c.cfg.Budget),
		zap.Duration("tick_interval", c.cfg.TickInterval),
		zap.Duration("reap_after", c.cfg.ReapAfter),
	)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-tick.C:
			c.tick()
		case <-reap.C:
			c.reap()
		case <-ctx.Done():
			obslog.L().Info("coordinator_stopped", zap.Int("rooms", len(c.rooms)))
			return nil
		}
	}
}

func (c *Coordinator) stop() {
	c.once.Do(func() { close(c.done) })
	c.bg.Wait()
}

func (c *Coordinator) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Coordinator) post(ev event) error {
	if c.stopped() {
		return ErrStopped
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

// Connect announces a new live connection.
func (c *Coordinator) Connect(p registry.Peer) error { return c.post(connectEvent{peer: p}) }

// Dispatch hands one raw inbound frame from p to the loop.
func (c *Coordinator) Dispatch(p registry.Peer, raw []byte) error {
	return c.post(messageEvent{peer: p, raw: raw})
}

// Disconnect detaches p from whatever room it was in.
func (c *Coordinator) Disconnect(p registry.Peer) error { return c.post(disconnectEvent{peer: p}) }

// do runs fn on the loop goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := queryEvent{fn: func() {
		defer close(finished)
		fn()
	}}
	if c.stopped() {
		return ErrStopped
	}
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state of a resident room.
func (c *Coordinator) Snapshot(ctx context.Context, roomID string) (session.Snapshot, bool, error) {
	var (
		snap session.Snapshot
		ok   bool
	)
	err := c.do(ctx, func() {
		if r := c.rooms[roomID]; r != nil {
			snap, ok = r.room.Snapshot(), true
		}
	})
	return snap, ok, err
}

// Stats reports loop-owned counters.
type Stats struct {
	Rooms       int
	Connections int
	Pending     bool
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, func() {
		s = Stats{Rooms: len(c.rooms), Connections: len(c.conns), Pending: c.pendingID != ""}
	})
	return s, err
}

func (c *Coordinator) handle(ev event) {
	switch e := ev.(type) {
	case connectEvent:
		c.conns[e.peer.ID()] = e.peer
		c.rec.SetConnections(len(c.conns))
		obslog.L().Debug("conn_opened", zap.String("conn_id", e.peer.ID()), zap.String("user_id", e.peer.UserID()))
	case disconnectEvent:
		c.onDisconnect(e.peer)
	case messageEvent:
		c.onMessage(e.peer, e.raw)
	case loadedEvent:
		c.onLoaded(e)
	case queryEvent:
		e.fn()
	}
}

// async runs fn off the loop. fn must only touch loop state by posting events.
func (c *Coordinator) async(fn func(ctx context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) tick() {
	now := c.now()
	for _, r := range c.rooms {
		if r.room.Status() != domain.StatusInProgress {
			continue
		}
		if res := r.room.Tick(now); res != nil {
			c.finish(r.room, res)
		}
	}
}

// reap evicts completed rooms nobody has been attached to for ReapAfter.
func (c *Coordinator) reap() {
	now := c.now()
	evicted := 0
	for id, r := range c.rooms {
		if r.room.Status() != domain.StatusCompleted {
			continue
		}
		players, spectators := c.reg.Counts(id)
		if players+spectators > 0 {
			r.idleSince = time.Time{}
			continue
		}
		if r.idleSince.IsZero() {
			r.idleSince = now
		}
		if now.Sub(r.idleSince) >= c.cfg.ReapAfter {
			delete(c.rooms, id)
			evicted++
		}
	}
	if evicted > 0 {
		c.rec.SetRoomsResident(len(c.rooms))
		obslog.L().Info("rooms_reaped", zap.Int("evicted", evicted), zap.Int("resident", len(c.rooms)))
	}
}

func (c *Coordinator) onDisconnect(p registry.Peer) {
	delete(c.conns, p.ID())
	c.rec.SetConnections(len(c.conns))
	for id, ws := range c.loads {
		kept := ws[:0]
		for _, w := range ws {
			if w.ID() != p.ID() {
				kept = append(kept, w)
			}
		}
		c.loads[id] = kept
	}

	m, ok := c.reg.Unregister(p)
	if !ok {
		return
	}
	obslog.L().Debug("conn_detached",
		zap.String("conn_id", m.ConnID),
		zap.String("room_id", m.RoomID),
		zap.String("role", string(m.Role)),
	)
	if m.RoomID != c.pendingID {
		return
	}
	if players, spectators := c.reg.Counts(m.RoomID); players+spectators == 0 {
		delete(c.rooms, m.RoomID)
		c.pendingID = ""
		c.rec.SetRoomsResident(len(c.rooms))
		obslog.L().Info("pending_room_discarded", zap.String("room_id", m.RoomID), zap.String("user_id", m.UserID))
	}
}

// WithContext / FromContext carry the coordinator through request contexts.
type ctxKey struct{}

func WithContext(ctx context.Context, c *Coordinator) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (*Coordinator, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Coordinator)
	return c, ok && c != nil
}
