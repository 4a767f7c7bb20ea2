package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPingInterval = 30 * time.Second

	// events buffered per observer before it is considered stalled
	outboundQueueSize = 256
)

// Conn is one observer transport. Implementations must be safe for
// concurrent use.
type Conn interface {
	Send(evt event.Event) error
	Ping() error
	Close() error
}

// Publisher forwards broadcasts to other nodes.
type Publisher interface {
	Publish(userID string, all bool, evt event.Event)
}

// observer owns a writer goroutine; callers only ever enqueue, so a stalled
// connection holds up nobody but itself.
type observer struct {
	id     string
	userID string
	conn   Conn
	// alive is cleared on every heartbeat and set again by any pong.
	alive atomic.Bool

	queue     chan event.Event
	ping      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeConn atomic.Bool
}

func newObserver(userID string, conn Conn) *observer {
	o := &observer{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		queue:  make(chan event.Event, outboundQueueSize),
		ping:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	o.alive.Store(true)
	return o
}

func (o *observer) run() {
	defer func() {
		if o.closeConn.Load() {
			_ = o.conn.Close()
		}
	}()
	for {
		select {
		case <-o.done:
			return
		case evt := <-o.queue:
			if err := o.conn.Send(evt); err != nil {
				// reaped at the next heartbeat
				o.alive.Store(false)
				logrus.WithError(err).Debugf("[WS] Write to observer %s failed", o.id)
			}
		case <-o.ping:
			if err := o.conn.Ping(); err != nil {
				logrus.WithError(err).Debugf("[WS] Ping to observer %s failed", o.id)
			}
		}
	}
}

// enqueue never blocks. A full queue drops evt and marks the observer dead.
func (o *observer) enqueue(evt event.Event) {
	select {
	case o.queue <- evt:
	default:
		o.alive.Store(false)
		logrus.Warnf("[WS] Observer %s is not keeping up, %s dropped", o.id, evt.Type)
	}
}

func (o *observer) requestPing() {
	select {
	case o.ping <- struct{}{}:
	default:
	}
}

// stop ends the writer; the connection is closed by it once the write in
// progress, if any, returns.
func (o *observer) stop(closeConn bool) {
	o.stopOnce.Do(func() {
		o.closeConn.Store(closeConn)
		close(o.done)
	})
}

// Hub keeps the live observers of every user and fans events out to them.
// Delivery is best-effort: a failing observer never affects the others and
// no error reaches the caller.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]map[string]*observer

	interval time.Duration
	relay    Publisher
}

func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Hub{
		observers: make(map[string]map[string]*observer),
		interval:  pingInterval,
	}
}

// SetRelay enables cross-node fan-out. Call before serving traffic.
func (h *Hub) SetRelay(p Publisher) {
	h.relay = p
}

// Subscribe registers conn as an observer of userID and greets it with a
// connected event.
func (h *Hub) Subscribe(userID string, conn Conn) string {
	o := newObserver(userID, conn)
	go o.run()
	o.enqueue(event.New(event.TypeConnected, event.ConnectedData{ObserverID: o.id, UserID: userID}))

	h.mu.Lock()
	set, ok := h.observers[userID]
	if !ok {
		set = make(map[string]*observer)
		h.observers[userID] = set
	}
	set[o.id] = o
	h.mu.Unlock()

	logrus.Debugf("[WS] Observer %s subscribed for user %s", o.id, userID)
	return o.id
}

// Unsubscribe removes the observer. It does not close the connection.
func (h *Hub) Unsubscribe(userID, observerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(userID, observerID, false)
}

func (h *Hub) removeLocked(userID, observerID string, closeConn bool) bool {
	set, ok := h.observers[userID]
	if !ok {
		return false
	}
	o, ok := set[observerID]
	if !ok {
		return false
	}
	o.stop(closeConn)
	delete(set, observerID)
	if len(set) == 0 {
		delete(h.observers, userID)
	}
	return true
}

// Reply queues evt for one observer only.
func (h *Hub) Reply(userID, observerID string, evt event.Event) bool {
	h.mu.RLock()
	o := h.observers[userID][observerID]
	h.mu.RUnlock()
	if o == nil {
		return false
	}
	o.enqueue(evt)
	return true
}

// MarkAlive records a pong (control frame or application ping).
func (h *Hub) MarkAlive(userID, observerID string) {
	h.mu.RLock()
	o := h.observers[userID][observerID]
	h.mu.RUnlock()
	if o != nil {
		o.alive.Store(true)
	}
}

func (h *Hub) Broadcast(userID string, evt event.Event) {
	h.DeliverLocal(userID, evt)
	if h.relay != nil {
		h.relay.Publish(userID, false, evt)
	}
}

func (h *Hub) BroadcastAll(evt event.Event) {
	h.DeliverLocalAll(evt)
	if h.relay != nil {
		h.relay.Publish("", true, evt)
	}
}

// DeliverLocal queues evt for the observers of userID on this node only.
func (h *Hub) DeliverLocal(userID string, evt event.Event) {
	for _, o := range h.snapshot(userID) {
		o.enqueue(evt)
	}
}

func (h *Hub) DeliverLocalAll(evt event.Event) {
	for _, o := range h.snapshot("") {
		o.enqueue(evt)
	}
}

// snapshot copies the observers of userID, or of everyone when userID is
// empty.
func (h *Hub) snapshot(userID string) []*observer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*observer
	if userID != "" {
		for _, o := range h.observers[userID] {
			out = append(out, o)
		}
		return out
	}
	for _, set := range h.observers {
		for _, o := range set {
			out = append(out, o)
		}
	}
	return out
}

// Run drives the heartbeat until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	logrus.Infof("[WS] Hub heartbeat every %s", h.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep closes observers that missed the previous ping and pings the rest.
func (h *Hub) sweep() {
	var dead []*observer
	for _, o := range h.snapshot("") {
		if !o.alive.Swap(false) {
			dead = append(dead, o)
			continue
		}
		o.requestPing()
	}

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, o := range dead {
		h.removeLocked(o.userID, o.id, true)
	}
	h.mu.Unlock()

	logrus.Debugf("[WS] Reaped %d unresponsive observers", len(dead))
}

// CloseAll disconnects every observer; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.observers
	h.observers = make(map[string]map[string]*observer)
	h.mu.Unlock()

	for _, set := range all {
		for _, o := range set {
			o.stop(true)
		}
	}
}

type UserStats struct {
	UserID    string `json:"user_id"`
	Observers int    `json:"observers"`
}

type Stats struct {
	Users     int         `json:"users"`
	Observers int         `json:"observers"`
	PerUser   []UserStats `json:"per_user"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{Users: len(h.observers), PerUser: make([]UserStats, 0, len(h.observers))}
	for userID, set := range h.observers {
		stats.Observers += len(set)
		stats.PerUser = append(stats.PerUser, UserStats{UserID: userID, Observers: len(set)})
	}
	sort.Slice(stats.PerUser, func(i, j int) bool {
		return stats.PerUser[i].UserID < stats.PerUser[j].UserID
	})
	return stats
}

// Count returns the observers of one user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers[userID])
}
