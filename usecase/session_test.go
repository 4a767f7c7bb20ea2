package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/pkg/msgworker"
	"github.com/AzielCF/az-crm/session/application"
	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/AzielCF/az-crm/session/domain/message"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/AzielCF/az-crm/session/repository"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubHandle struct {
	mu       sync.Mutex
	texts    []string
	media    []session.MediaPayload
	mediaErr error
}

func (h *stubHandle) SendText(_ context.Context, _ string, text string) (session.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, text)
	return session.SendResult{ID: "WA" + text}, nil
}

func (h *stubHandle) SendMedia(_ context.Context, _ string, media session.MediaPayload) (session.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mediaErr != nil {
		return session.SendResult{}, h.mediaErr
	}
	h.media = append(h.media, media)
	return session.SendResult{ID: "WAMEDIA"}, nil
}

func (h *stubHandle) Close(context.Context) error { return nil }
func (h *stubHandle) ConnectionState() string { return "connected" }
func (h *stubHandle) ListContacts(context.Context) ([]session.RawContact, error) {
	return nil, nil
}
func (h *stubHandle) ListChats(context.Context) ([]session.RawChat, error) {
	return nil, nil
}

type stubFactory struct {
	handle *stubHandle
}

func (f *stubFactory) Create(context.Context, session.CreateRequest) (session.ClientHandle, error) {
	return f.handle, nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, event.Event) {}
func (nopBroadcaster) BroadcastAll(event.Event) {}

func newTestSessionService(t *testing.T, maxSize int64) (*serviceSession, *stubHandle, string) {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	sessions := repository.NewSessionGormRepository(db)
	messages := repository.NewMessageGormRepository(db)
	contacts := repository.NewChatContactGormRepository(db)
	require.NoError(t, sessions.Init(ctx))
	require.NoError(t, messages.Init(ctx))
	require.NoError(t, contacts.Init(ctx))

	pool := msgworker.NewPool(2, 16)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	handle := &stubHandle{}
	owners := application.NewOwnerCache(sessions)
	pipeline := application.NewPipeline(messages, contacts, owners, nopBroadcaster{})
	registry := application.NewRegistry(application.RegistryDeps{
		Repo:        sessions,
		Factory:     &stubFactory{handle: handle},
		Pipeline:    pipeline,
		Broadcaster: nopBroadcaster{},
		Queue:       application.NewEventQueue(ctx, pool),
		Owners:      owners,
	}, application.RegistryConfig{CreateTimeout: time.Second})

	dir := t.TempDir()
	svc := NewSessionService(registry, pipeline, application.NewSyncer(registry), owners, nil, MediaOptions{Dir: dir, MaxSize: maxSize})
	return svc.(*serviceSession), handle, dir
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func uploadHeader(t *testing.T, name string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestSessionService_CreateRequiresUser(t *testing.T) {
	svc, _, _ := newTestSessionService(t, 0)

	_, err := svc.CreateSession(context.Background(), domainSession.CreateSessionRequest{Label: "main"})
	var vErr pkgError.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = svc.CreateSession(context.Background(), domainSession.CreateSessionRequest{UserID: "u1", Label: "bad label!"})
	require.ErrorAs(t, err, &vErr)
}

func TestSessionService_StatusOfUnknownSessionIsIdle(t *testing.T) {
	svc, _, _ := newTestSessionService(t, 0)

	res, err := svc.GetSessionStatus(context.Background(), domainSession.SessionRequest{UserID: "u1", Label: "nope"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusIdle, res.Status)
	assert.Empty(t, res.SessionID)
}

func TestSessionService_SendAndReadBack(t *testing.T) {
	svc, handle, _ := newTestSessionService(t, 0)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, domainSession.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, session.DefaultLabel, created.Label)

	res, err := svc.SendMessage(ctx, domainSession.SendTextRequest{UserID: "u1", To: "+55 11 98888-7777", Text: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "WAhola", res.ExternalMessageID)
	assert.Equal(t, "sent", res.Status)
	assert.Equal(t, []string{"hola"}, handle.texts)

	byLabel, err := svc.GetMessages(ctx, domainSession.MessagesRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	assert.Equal(t, message.DirectionOutgoing, byLabel[0].Direction)

	byID, err := svc.GetMessages(ctx, domainSession.MessagesRequest{UserID: "u1", SessionID: created.ID})
	require.NoError(t, err)
	assert.Len(t, byID, 1)

	_, err = svc.GetMessages(ctx, domainSession.MessagesRequest{UserID: "intruder", SessionID: created.ID})
	var nf pkgError.SessionNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSessionService_GetMessagesRejectsBadCursor(t *testing.T) {
	svc, _, _ := newTestSessionService(t, 0)

	_, err := svc.GetMessages(context.Background(), domainSession.MessagesRequest{UserID: "u1", Before: "yesterday"})
	var vErr pkgError.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestSessionService_SendMediaUpload(t *testing.T) {
	svc, handle, dir := newTestSessionService(t, 1<<20)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, domainSession.CreateSessionRequest{UserID: "u1", Label: "shop"})
	require.NoError(t, err)

	res, err := svc.SendMedia(ctx, domainSession.SendMediaRequest{
		UserID:  "u1",
		Label:   "shop",
		To:      "5511988887777",
		Caption: "catalogo",
		File:    uploadHeader(t, "photo.png", pngBytes(t)),
	})
	require.NoError(t, err)
	assert.Equal(t, "WAMEDIA", res.ExternalMessageID)

	require.Len(t, handle.media, 1)
	sent := handle.media[0]
	assert.Equal(t, session.MediaImage, sent.Kind)
	assert.Equal(t, "image/png", sent.MimeType)
	assert.Equal(t, "photo.png", sent.FileName)
	assert.True(t, strings.HasPrefix(sent.URL, "/"))
	assert.Contains(t, sent.URL, created.ID)

	entries, err := os.ReadDir(dir + "/" + created.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	msgs, err := svc.GetMessages(ctx, domainSession.MessagesRequest{UserID: "u1", Label: "shop"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, message.TypeImage, msgs[0].MessageType)
	assert.Equal(t, "catalogo", msgs[0].Content)
	assert.Equal(t, sent.URL, msgs[0].MediaURL)
}

func TestSessionService_FailedMediaSendLeavesNoCopy(t *testing.T) {
	svc, handle, dir := newTestSessionService(t, 1<<20)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, domainSession.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	handle.mu.Lock()
	handle.mediaErr = errors.New("upload rejected")
	handle.mu.Unlock()

	_, err = svc.SendMedia(ctx, domainSession.SendMediaRequest{
		UserID: "u1",
		To:     "5511988887777",
		File:   uploadHeader(t, "photo.png", pngBytes(t)),
	})
	var automation *pkgError.AutomationError
	require.ErrorAs(t, err, &automation)

	entries, err := os.ReadDir(filepath.Join(dir, created.ID))
	require.NoError(t, err)
	assert.Empty(t, entries)

	msgs, err := svc.GetMessages(ctx, domainSession.MessagesRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSessionService_SendMediaTooLarge(t *testing.T) {
	svc, handle, _ := newTestSessionService(t, 16)
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, domainSession.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.SendMedia(ctx, domainSession.SendMediaRequest{
		UserID: "u1",
		To:     "5511988887777",
		File:   uploadHeader(t, "big.bin", bytes.Repeat([]byte("a"), 64)),
	})
	var vErr pkgError.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, err.Error(), "limit")
	assert.Empty(t, handle.media)
}

func TestSessionService_SendMediaNeedsSource(t *testing.T) {
	svc, _, _ := newTestSessionService(t, 0)

	_, err := svc.SendMedia(context.Background(), domainSession.SendMediaRequest{UserID: "u1", To: "5511988887777"})
	var vErr pkgError.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestSessionService_SendMediaWithoutSession(t *testing.T) {
	svc, _, _ := newTestSessionService(t, 0)

	_, err := svc.SendMedia(context.Background(), domainSession.SendMediaRequest{
		UserID: "u1",
		To:     "5511988887777",
		File:   uploadHeader(t, "a.txt", []byte("hello")),
	})
	var nf pkgError.SessionNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestKindFromMime(t *testing.T) {
	cases := map[string]session.MediaKind{
		"image/jpeg":      session.MediaImage,
		"video/mp4":       session.MediaVideo,
		"audio/mpeg":      session.MediaAudio,
		"application/ogg": session.MediaAudio,
		"application/pdf": session.MediaDocument,
		"text/plain":      session.MediaDocument,
	}
	for mimeType, want := range cases {
		assert.Equal(t, want, kindFromMime(mimeType), mimeType)
	}
}
