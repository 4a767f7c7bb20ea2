package application

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/AzielCF/az-crm/session/domain/message"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultCreateTimeout = 60 * time.Second
	qrImageSize          = 256
)

var errCreateAborted = errors.New("session closed while it was being created")

// entry is the in-memory view of one key. handle is nil while the factory is
// still starting the client.
type entry struct {
	sessionID  string
	generation uint64
	handle     session.ClientHandle
	status     session.Status
	phone      string
	cancel     context.CancelFunc
	closing    bool
}

type RegistryConfig struct {
	CreateTimeout time.Duration
}

// Registry owns every live client handle, keyed by (user, label). Operations
// on one key are serialized; different keys never wait on each other.
type Registry struct {
	repo        session.ISessionRepository
	factory     session.HandleFactory
	cleaner     session.ArtifactCleaner
	pipeline    *Pipeline
	broadcaster event.Broadcaster
	queue       *EventQueue
	owners      *OwnerCache
	locks       *keyLocks
	// writes orders status/QR persistence of a key against create and close.
	writes      *keyLocks
	remoteLock  Locker
	cfg         RegistryConfig

	generation atomic.Uint64

	mu      sync.RWMutex
	entries map[session.Key]*entry
}

type RegistryDeps struct {
	Repo        session.ISessionRepository
	Factory     session.HandleFactory
	Cleaner     session.ArtifactCleaner
	Pipeline    *Pipeline
	Broadcaster event.Broadcaster
	Queue       *EventQueue
	Owners      *OwnerCache
	// Lock is optional. When set, creation is also serialized across nodes.
	Lock Locker
}

func NewRegistry(deps RegistryDeps, cfg RegistryConfig) *Registry {
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaultCreateTimeout
	}
	owners := deps.Owners
	if owners == nil {
		owners = NewOwnerCache(deps.Repo)
	}
	return &Registry{
		repo:        deps.Repo,
		factory:     deps.Factory,
		cleaner:     deps.Cleaner,
		pipeline:    deps.Pipeline,
		broadcaster: deps.Broadcaster,
		queue:       deps.Queue,
		owners:      owners,
		locks:       newKeyLocks(),
		writes:      newKeyLocks(),
		remoteLock:  deps.Lock,
		cfg:         cfg,
		entries:     make(map[session.Key]*entry),
	}
}

// CreateSession starts (or returns) the session for key. A Connected session
// with a live handle is returned untouched; anything else is replaced by a
// fresh handle. It returns once the client is running, not once it is paired.
func (r *Registry) CreateSession(ctx context.Context, key session.Key) (*session.Session, error) {
	return r.create(ctx, key, false)
}

func (r *Registry) create(ctx context.Context, key session.Key, restoring bool) (*session.Session, error) {
	if key.UserID == "" {
		return nil, pkgError.ValidationError("user id is required")
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	if r.remoteLock != nil {
		lockCtx, cancelLock := context.WithTimeout(ctx, r.cfg.CreateTimeout)
		release, err := r.remoteLock.Acquire(lockCtx, "session:create:"+key.String())
		cancelLock()
		if err != nil {
			return nil, pkgError.NewPersistenceError("acquire session lock", err)
		}
		defer release()
	}

	rec, err := r.repo.GetByKey(ctx, key)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		rec = session.Session{ID: uuid.NewString(), UserID: key.UserID, Label: key.Label}
	case err != nil:
		return nil, pkgError.NewPersistenceError("load session", err)
	}

	if current := r.snapshot(key); current != nil && current.handle != nil && current.status == session.StatusConnected {
		rec.Status = current.status
		if current.phone != "" {
			rec.PhoneNumber = current.phone
		}
		return &rec, nil
	}

	if old := r.detach(key); old != nil {
		r.release(ctx, key, old, false)
	}
	if !restoring {
		_ = r.clearArtifacts(key)
	}

	rec.Status = session.StatusConnecting
	rec.IsActive = true
	rec.QRCode = ""
	if rec.LastActivityAt.IsZero() {
		rec.LastActivityAt = time.Now().UTC()
	}
	unlockWrites := r.writes.Lock(key)
	err = r.repo.Save(ctx, &rec)
	unlockWrites()
	if err != nil {
		return nil, pkgError.NewPersistenceError("save session", err)
	}
	r.owners.Remember(rec.ID, rec.UserID)

	gen := r.generation.Add(1)
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CreateTimeout)
	defer cancel()

	r.mu.Lock()
	r.entries[key] = &entry{
		sessionID:  rec.ID,
		generation: gen,
		status:     session.StatusConnecting,
		cancel:     cancel,
	}
	r.mu.Unlock()

	r.broadcastStatus(key, rec.ID, session.StatusConnecting, rec.PhoneNumber)
	logrus.WithField("key", key.String()).Infof("[SESSION] Creating client handle (session %s)", rec.ID)

	handle, createErr := r.factory.Create(createCtx, session.CreateRequest{
		Key:       key,
		SessionID: rec.ID,
		Callbacks: r.callbacksFor(key, rec.ID, gen),
	})

	r.mu.Lock()
	current, ok := r.entries[key]
	live := ok && current.generation == gen && !current.closing
	if live {
		if createErr != nil {
			delete(r.entries, key)
		} else {
			current.handle = handle
			current.cancel = nil
		}
	}
	r.mu.Unlock()

	if !live {
		if handle != nil {
			_ = r.closeHandle(context.WithoutCancel(ctx), key, handle)
		}
		logrus.WithField("key", key.String()).Info("[SESSION] Creation aborted by close")
		return nil, pkgError.NewAutomationError("create session", errCreateAborted)
	}

	if createErr != nil {
		logrus.WithError(createErr).WithField("key", key.String()).Error("[SESSION] Client handle creation failed")
		if err := r.repo.UpdateStatus(ctx, rec.ID, session.StatusError, ""); err != nil {
			logrus.WithError(err).Warnf("[SESSION] Failed to persist error status for %s", rec.ID)
		}
		r.broadcastStatus(key, rec.ID, session.StatusError, rec.PhoneNumber)
		return nil, pkgError.NewAutomationError("create session", createErr)
	}

	if fresh, err := r.repo.GetByID(ctx, rec.ID); err == nil {
		rec = fresh
	}
	rec.Status = r.GetStatus(ctx, key)
	return &rec, nil
}

// CloseSession tears down the handle for key, including one still being
// created, and marks the record Disconnected.
func (r *Registry) CloseSession(ctx context.Context, key session.Key) error {
	return r.teardown(ctx, key, false)
}

// DeleteSession closes the session, unpairs the account when the handle
// supports it and removes the on-disk client state.
func (r *Registry) DeleteSession(ctx context.Context, key session.Key) error {
	return r.teardown(ctx, key, true)
}

func (r *Registry) teardown(ctx context.Context, key session.Key, forget bool) error {
	// Cancel first so an in-flight create gives up the key lock quickly.
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.closing = true
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	unlock := r.locks.Lock(key)
	defer unlock()

	old := r.detach(key)
	if old != nil {
		r.release(ctx, key, old, forget)
	}
	if forget {
		_ = r.clearArtifacts(key)
	}

	rec, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			if old == nil {
				return pkgError.SessionNotFoundError("session " + key.String() + " not found")
			}
			return nil
		}
		return pkgError.NewPersistenceError("load session", err)
	}

	// Waits for a status job that passed its currency check before closing.
	unlockWrites := r.writes.Lock(key)
	defer unlockWrites()
	if err := r.repo.Deactivate(ctx, rec.ID, session.StatusDisconnected); err != nil {
		return pkgError.NewPersistenceError("deactivate session", err)
	}
	r.broadcastStatus(key, rec.ID, session.StatusDisconnected, rec.PhoneNumber)
	logrus.WithField("key", key.String()).Info("[SESSION] Session closed")
	return nil
}

// SendMessage sends a text through the live handle of key and records it.
func (r *Registry) SendMessage(ctx context.Context, key session.Key, to, text string) (*message.Message, error) {
	sessionID, handle, err := r.liveHandle(key)
	if err != nil {
		return nil, err
	}
	addr := utils.NormalizeAddress(to)
	if addr == "" {
		return nil, pkgError.ValidationError("destination address is required")
	}

	res, err := handle.SendText(ctx, addr, text)
	if err != nil {
		return nil, pkgError.NewAutomationError("send message", err)
	}

	msg, err := r.pipeline.RecordOutbound(ctx, sessionID, OutboundMessage{
		To:      addr,
		Content: text,
		Type:    message.TypeText,
	}, res)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, sessionID)
	return msg, nil
}

// SendMedia sends a media payload; the caption becomes the message content.
func (r *Registry) SendMedia(ctx context.Context, key session.Key, to string, media session.MediaPayload) (*message.Message, error) {
	sessionID, handle, err := r.liveHandle(key)
	if err != nil {
		return nil, err
	}
	addr := utils.NormalizeAddress(to)
	if addr == "" {
		return nil, pkgError.ValidationError("destination address is required")
	}

	res, err := handle.SendMedia(ctx, addr, media)
	if err != nil {
		return nil, pkgError.NewAutomationError("send media", err)
	}

	msg, err := r.pipeline.RecordOutbound(ctx, sessionID, OutboundMessage{
		To:       addr,
		Content:  media.Caption,
		MediaURL: media.URL,
		Type:     message.ParseType(string(media.Kind)),
	}, res)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, sessionID)
	return msg, nil
}

// GetStatus never talks to the client: live entries answer from memory,
// everything else from the store, and unknown keys are Idle.
func (r *Registry) GetStatus(ctx context.Context, key session.Key) session.Status {
	if e := r.snapshot(key); e != nil {
		return e.status
	}
	rec, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			logrus.WithError(err).Warnf("[SESSION] Status lookup failed for %s", key)
		}
		return session.StatusIdle
	}
	return rec.Status
}

// Session returns the stored record with the live status applied.
func (r *Registry) Session(ctx context.Context, key session.Key) (*session.Session, error) {
	rec, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, pkgError.SessionNotFoundError("session " + key.String() + " not found")
		}
		return nil, pkgError.NewPersistenceError("load session", err)
	}
	r.overlay(&rec)
	return &rec, nil
}

func (r *Registry) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	list, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgError.NewPersistenceError("list sessions", err)
	}
	for i := range list {
		r.overlay(&list[i])
	}
	return list, nil
}

// RestoreSessions brings back every session that was Connected when the
// process stopped, reusing the paired device state on disk.
func (r *Registry) RestoreSessions(ctx context.Context) (int, error) {
	active, err := r.repo.ListActive(ctx)
	if err != nil {
		return 0, pkgError.NewPersistenceError("list active sessions", err)
	}

	restored := 0
	for _, s := range active {
		if s.Status != session.StatusConnected {
			continue
		}
		if _, err := r.create(ctx, s.Key(), true); err != nil {
			logrus.WithError(err).WithField("key", s.Key().String()).Warn("[SESSION] Failed to restore session")
			continue
		}
		restored++
	}
	if restored > 0 {
		logrus.Infof("[SESSION] Restored %d session(s)", restored)
	}
	return restored, nil
}

// ReapIdle closes active sessions without activity for longer than maxIdle.
func (r *Registry) ReapIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	idle, err := r.repo.ListIdleSince(ctx, time.Now().Add(-maxIdle))
	if err != nil {
		return 0, pkgError.NewPersistenceError("list idle sessions", err)
	}

	closed := 0
	for _, s := range idle {
		if err := r.CloseSession(ctx, s.Key()); err != nil {
			logrus.WithError(err).WithField("key", s.Key().String()).Warn("[REAPER] Failed to close idle session")
			continue
		}
		closed++
	}
	return closed, nil
}

// Shutdown closes every live handle. Records keep their status so that the
// next boot can restore them.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[session.Key]*entry)
	r.mu.Unlock()

	for key, e := range entries {
		r.release(ctx, key, e, false)
	}
	logrus.Infof("[SESSION] Shutdown closed %d handle(s)", len(entries))
}

// LiveSession is what the node holds in memory for one key.
type LiveSession struct {
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	// ClientState is read from the handle; "creating" while the factory runs.
	ClientState string `json:"client_state"`
}

// LiveSessions lists the live entries of this node, ordered by key.
func (r *Registry) LiveSessions() []LiveSession {
	type live struct {
		key session.Key
		e   entry
	}
	r.mu.RLock()
	all := make([]live, 0, len(r.entries))
	for key, e := range r.entries {
		all = append(all, live{key: key, e: *e})
	}
	r.mu.RUnlock()

	out := make([]LiveSession, 0, len(all))
	for _, l := range all {
		state := "creating"
		if l.e.handle != nil {
			state = l.e.handle.ConnectionState()
		}
		out = append(out, LiveSession{
			UserID:      l.key.UserID,
			Label:       l.key.Label,
			SessionID:   l.e.sessionID,
			Status:      string(l.e.status),
			ClientState: state,
		})
	}
	slices.SortFunc(out, func(a, b LiveSession) int {
		if c := strings.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return strings.Compare(a.Label, b.Label)
	})
	return out
}

// LiveCount reports how many keys currently own a handle or a pending create.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// --- callbacks ---

func (r *Registry) callbacksFor(key session.Key, sessionID string, gen uint64) session.Callbacks {
	return session.Callbacks{
		OnQRCode: func(raw string) {
			r.queue.Enqueue(sessionID, JobQRCode, func(ctx context.Context) error {
				unlock := r.writes.Lock(key)
				defer unlock()
				if !r.isCurrent(key, gen) {
					return nil
				}
				return r.handleQRCode(ctx, key, sessionID, gen, raw)
			})
		},
		OnStatusChange: func(raw string, info session.StatusInfo) {
			r.queue.Enqueue(sessionID, JobStatus, func(ctx context.Context) error {
				unlock := r.writes.Lock(key)
				defer unlock()
				if !r.isCurrent(key, gen) {
					return nil
				}
				return r.handleStatusChange(ctx, key, sessionID, gen, raw, info)
			})
		},
		OnMessage: func(msg session.RawMessage) {
			r.queue.Enqueue(sessionID, JobInbound, func(ctx context.Context) error {
				if !r.isCurrent(key, gen) {
					return nil
				}
				if err := r.pipeline.IngestInbound(ctx, sessionID, msg); err != nil {
					return err
				}
				r.touch(ctx, sessionID)
				return nil
			})
		},
		OnAck: func(externalID string, level int) {
			r.queue.Enqueue(sessionID, JobAck, func(ctx context.Context) error {
				if !r.isCurrent(key, gen) {
					return nil
				}
				return r.pipeline.ApplyAck(ctx, sessionID, externalID, message.AckLevel(level))
			})
		},
	}
}

func (r *Registry) handleQRCode(ctx context.Context, key session.Key, sessionID string, gen uint64, raw string) error {
	if err := r.repo.UpdateQRCode(ctx, sessionID, raw); err != nil {
		return pkgError.NewPersistenceError("store qr code", err)
	}
	r.setStatus(key, gen, session.StatusAwaitingScan, "")

	image := raw
	if !utils.IsImageReference(raw) {
		rendered, err := utils.QRCodeDataURL(raw, qrImageSize)
		if err != nil {
			logrus.WithError(err).Warnf("[SESSION] Could not render QR for %s", sessionID)
		}
		image = rendered
	}

	r.broadcast(key.UserID, event.New(event.TypeSessionQR, event.SessionQRData{
		SessionID: sessionID,
		QRCode:    raw,
		QRImage:   image,
	}))
	return nil
}

func (r *Registry) handleStatusChange(ctx context.Context, key session.Key, sessionID string, gen uint64, raw string, info session.StatusInfo) error {
	status := session.MapRawStatus(raw)
	phone := ""
	if info.Me != nil {
		phone = utils.DigitsOnly(info.Me.User)
	}

	logrus.WithField("key", key.String()).Infof("[SESSION] %s -> %s", raw, status)

	// An empty phone keeps the stored one.
	if err := r.repo.UpdateStatus(ctx, sessionID, status, phone); err != nil {
		return pkgError.NewPersistenceError("update session status", err)
	}
	phone = r.setStatus(key, gen, status, phone)
	r.broadcastStatus(key, sessionID, status, phone)
	return nil
}

// --- internals ---

func (r *Registry) snapshot(key session.Key) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (r *Registry) detach(key session.Key) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	delete(r.entries, key)
	return e
}

func (r *Registry) isCurrent(key session.Key, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return ok && e.generation == gen && !e.closing
}

// setStatus updates the live entry and returns the phone number to persist.
func (r *Registry) setStatus(key session.Key, gen uint64, status session.Status, phone string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.generation != gen {
		return phone
	}
	e.status = status
	if phone != "" {
		e.phone = phone
	}
	return e.phone
}

func (r *Registry) liveHandle(key session.Key) (string, session.ClientHandle, error) {
	e := r.snapshot(key)
	if e == nil || e.handle == nil || e.closing {
		return "", nil, pkgError.SessionNotFoundError("no live session for " + key.String())
	}
	return e.sessionID, e.handle, nil
}

// connectedHandle is liveHandle restricted to Connected sessions.
func (r *Registry) connectedHandle(key session.Key) (string, session.ClientHandle, error) {
	e := r.snapshot(key)
	if e == nil || e.handle == nil || e.closing {
		return "", nil, pkgError.SessionNotFoundError("no live session for " + key.String())
	}
	if e.status != session.StatusConnected {
		return "", nil, pkgError.SessionNotConnectedError("session " + key.String() + " is " + string(e.status))
	}
	return e.sessionID, e.handle, nil
}

func (r *Registry) overlay(s *session.Session) {
	if e := r.snapshot(s.Key()); e != nil && e.sessionID == s.ID {
		s.Status = e.status
		if e.phone != "" {
			s.PhoneNumber = e.phone
		}
	}
}

// release stops a detached entry. Close and logout failures are logged and
// otherwise ignored.
func (r *Registry) release(ctx context.Context, key session.Key, e *entry, logout bool) {
	if e.cancel != nil {
		e.cancel()
	}
	if e.handle == nil {
		return
	}
	if logout {
		if l, ok := e.handle.(session.Logouter); ok {
			if err := l.Logout(ctx); err != nil {
				logrus.WithError(err).WithField("key", key.String()).Warn("[SESSION] Logout failed")
			}
		}
	}
	_ = r.closeHandle(ctx, key, e.handle)
}

func (r *Registry) closeHandle(ctx context.Context, key session.Key, h session.ClientHandle) error {
	err := h.Close(ctx)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("[SESSION] Closing client handle failed")
	}
	return err
}

func (r *Registry) clearArtifacts(key session.Key) error {
	if r.cleaner == nil {
		return nil
	}
	err := r.cleaner.Clear(key)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("[SESSION] Clearing session artifacts failed")
	}
	return err
}

func (r *Registry) touch(ctx context.Context, sessionID string) {
	if err := r.repo.Touch(ctx, sessionID, time.Now()); err != nil {
		logrus.WithError(err).Debugf("[SESSION] Touch failed for %s", sessionID)
	}
}

func (r *Registry) broadcastStatus(key session.Key, sessionID string, status session.Status, phone string) {
	r.broadcast(key.UserID, event.New(event.TypeSessionStatus, event.SessionStatusData{
		SessionID:   sessionID,
		Label:       key.Label,
		Status:      string(status),
		PhoneNumber: phone,
	}))
}

func (r *Registry) broadcast(userID string, evt event.Event) {
	if r.broadcaster != nil {
		r.broadcaster.Broadcast(userID, evt)
	}
}
