package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AzielCF/az-crm/pkg/msgworker"
	"github.com/AzielCF/az-crm/session/application"
	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/AzielCF/az-crm/session/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// --- client handle ---

type sentText struct {
	To   string
	Text string
}

type fakeHandle struct {
	mu        sync.Mutex
	sent      []sentText
	media     []session.MediaPayload
	closed    bool
	loggedOut bool
	sendErr   error
	closeErr  error
	contacts  []session.RawContact
	chats     []session.RawChat
	seq       int
}

func (h *fakeHandle) SendText(_ context.Context, address, text string) (session.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return session.SendResult{}, h.sendErr
	}
	h.seq++
	h.sent = append(h.sent, sentText{To: address, Text: text})
	return session.SendResult{ID: "EXT" + string(rune('A'+h.seq-1)), From: "5511999999999@s.whatsapp.net"}, nil
}

func (h *fakeHandle) SendMedia(_ context.Context, address string, media session.MediaPayload) (session.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return session.SendResult{}, h.sendErr
	}
	h.media = append(h.media, media)
	return session.SendResult{}, nil
}

func (h *fakeHandle) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return h.closeErr
}

func (h *fakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return nil
}

func (h *fakeHandle) ConnectionState() string { return "connected" }

func (h *fakeHandle) ListContacts(context.Context) ([]session.RawContact, error) {
	return h.contacts, nil
}

func (h *fakeHandle) ListChats(context.Context) ([]session.RawChat, error) {
	return h.chats, nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// --- factory ---

type fakeFactory struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	callbacks []session.Callbacks
	err       error
	newHandle func() *fakeHandle

	// gate, when set, holds Create until it is closed.
	gate          chan struct{}
	ignoreCancel  bool
	entered       chan struct{}
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	createCounter atomic.Int32
}

func (f *fakeFactory) Create(ctx context.Context, req session.CreateRequest) (session.ClientHandle, error) {
	f.createCounter.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if n <= seen || f.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.callbacks = append(f.callbacks, req.Callbacks)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		if f.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	} else {
		// let concurrent callers overlap if the registry allowed it
		time.Sleep(5 * time.Millisecond)
	}

	if f.err != nil {
		return nil, f.err
	}

	h := &fakeHandle{}
	if f.newHandle != nil {
		h = f.newHandle()
	}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeFactory) lastCallbacks(t *testing.T) session.Callbacks {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.callbacks)
	return f.callbacks[len(f.callbacks)-1]
}

func (f *fakeFactory) lastHandle(t *testing.T) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.handles)
	return f.handles[len(f.handles)-1]
}

func (f *fakeFactory) allHandles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

type fakeCleaner struct {
	mu      sync.Mutex
	cleared []session.Key
}

func (c *fakeCleaner) Clear(key session.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, key)
	return errors.New("nothing to remove")
}

func (c *fakeCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cleared)
}

// --- broadcaster ---

type recorder struct {
	mu     sync.Mutex
	events map[string][]event.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]event.Event)}
}

func (r *recorder) Broadcast(userID string, evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[userID] = append(r.events[userID], evt)
}

func (r *recorder) BroadcastAll(evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for u := range r.events {
		r.events[u] = append(r.events[u], evt)
	}
}

func (r *recorder) ofType(userID, eventType string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events[userID] {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- session store ---

// gatedSessionRepo holds UpdateStatus calls for one status until release is
// closed.
type gatedSessionRepo struct {
	session.ISessionRepository
	status  session.Status
	entered chan struct{}
	release chan struct{}
}

func newGatedSessionRepo(status session.Status) func(session.ISessionRepository) session.ISessionRepository {
	return func(inner session.ISessionRepository) session.ISessionRepository {
		return &gatedSessionRepo{
			ISessionRepository: inner,
			status:             status,
			entered:            make(chan struct{}, 1),
			release:            make(chan struct{}),
		}
	}
}

func (g *gatedSessionRepo) UpdateStatus(ctx context.Context, id string, status session.Status, phone string) error {
	if status == g.status {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return g.ISessionRepository.UpdateStatus(ctx, id, status, phone)
}

// --- harness ---

type harness struct {
	db       *gorm.DB
	registry *application.Registry
	pipeline *application.Pipeline
	syncer   *application.Syncer
	sessions *repository.SessionGormRepository
	messages *repository.MessageGormRepository
	contacts *repository.ChatContactGormRepository
	factory  *fakeFactory
	cleaner  *fakeCleaner
	events   *recorder
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, nil)
}

// newHarnessWithRepo lets a test put a wrapper between the registry and the
// session store.
func newHarnessWithRepo(t *testing.T, wrap func(session.ISessionRepository) session.ISessionRepository) *harness {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)

	h := &harness{
		db:       db,
		sessions: repository.NewSessionGormRepository(db),
		messages: repository.NewMessageGormRepository(db),
		contacts: repository.NewChatContactGormRepository(db),
		factory:  &fakeFactory{},
		cleaner:  &fakeCleaner{},
		events:   newRecorder(),
	}
	require.NoError(t, h.sessions.Init(ctx))
	require.NoError(t, h.messages.Init(ctx))
	require.NoError(t, h.contacts.Init(ctx))

	pool := msgworker.NewPool(4, 64)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	var repo session.ISessionRepository = h.sessions
	if wrap != nil {
		repo = wrap(repo)
	}
	owners := application.NewOwnerCache(repo)
	h.pipeline = application.NewPipeline(h.messages, h.contacts, owners, h.events)
	h.registry = application.NewRegistry(application.RegistryDeps{
		Repo:        repo,
		Factory:     h.factory,
		Cleaner:     h.cleaner,
		Pipeline:    h.pipeline,
		Broadcaster: h.events,
		Queue:       application.NewEventQueue(ctx, pool),
		Owners:      owners,
	}, application.RegistryConfig{CreateTimeout: 2 * time.Second})
	h.syncer = application.NewSyncer(h.registry)
	return h
}

// connect creates the session for key and drives it to Connected.
func (h *harness) connect(t *testing.T, key session.Key, phone string) *session.Session {
	t.Helper()
	s, err := h.registry.CreateSession(context.Background(), key)
	require.NoError(t, err)

	h.factory.lastCallbacks(t).OnStatusChange("isLogged", session.StatusInfo{Me: &session.Identity{User: phone}})
	require.Eventually(t, func() bool {
		for _, e := range h.events.ofType(key.UserID, event.TypeSessionStatus) {
			data := e.Data.(event.SessionStatusData)
			if data.SessionID == s.ID && data.Status == string(session.StatusConnected) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

func (h *harness) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Table("crm_messages").Count(&n).Error)
	return n
}

// drain waits until every callback queued so far for the session is handled.
// Callbacks of one session run in order, so a marker status change that has
// been applied means everything before it was too.
func (h *harness) drain(t *testing.T, cb session.Callbacks, sessionID string) {
	t.Helper()
	marker := fmt.Sprintf("99%09d", drainCounter.Add(1))
	cb.OnStatusChange("chatsAvailable", session.StatusInfo{Me: &session.Identity{User: marker}})
	require.Eventually(t, func() bool {
		s, err := h.sessions.GetByID(context.Background(), sessionID)
		return err == nil && s.PhoneNumber == marker
	}, 2*time.Second, 5*time.Millisecond)
}

var drainCounter atomic.Int64
