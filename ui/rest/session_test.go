package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/session/domain/contact"
	"github.com/AzielCF/az-crm/session/domain/message"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/AzielCF/az-crm/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSessionUsecase struct {
	mock.Mock
}

func (m *mockSessionUsecase) CreateSession(ctx context.Context, request domainSession.CreateSessionRequest) (session.Session, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(session.Session), args.Error(1)
}

func (m *mockSessionUsecase) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]session.Session), args.Error(1)
}

func (m *mockSessionUsecase) GetSessionStatus(ctx context.Context, request domainSession.SessionRequest) (domainSession.StatusResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(domainSession.StatusResponse), args.Error(1)
}

func (m *mockSessionUsecase) CloseSession(ctx context.Context, request domainSession.SessionRequest) error {
	return m.Called(ctx, request).Error(0)
}

func (m *mockSessionUsecase) DeleteSession(ctx context.Context, request domainSession.SessionRequest) error {
	return m.Called(ctx, request).Error(0)
}

func (m *mockSessionUsecase) SendMessage(ctx context.Context, request domainSession.SendTextRequest) (domainSession.SendResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(domainSession.SendResponse), args.Error(1)
}

func (m *mockSessionUsecase) SendMedia(ctx context.Context, request domainSession.SendMediaRequest) (domainSession.SendResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(domainSession.SendResponse), args.Error(1)
}

func (m *mockSessionUsecase) GetMessages(ctx context.Context, request domainSession.MessagesRequest) ([]message.Message, error) {
	args := m.Called(ctx, request)
	return args.Get(0).([]message.Message), args.Error(1)
}

func (m *mockSessionUsecase) SyncContacts(ctx context.Context, request domainSession.SessionRequest) ([]contact.SyncedContact, error) {
	args := m.Called(ctx, request)
	return args.Get(0).([]contact.SyncedContact), args.Error(1)
}

func (m *mockSessionUsecase) SyncChats(ctx context.Context, request domainSession.SessionRequest) ([]contact.SyncedChat, error) {
	args := m.Called(ctx, request)
	return args.Get(0).([]contact.SyncedChat), args.Error(1)
}

type envelope struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

func newTestApp(svc domainSession.ISessionUsecase) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Recovery())
	api := app.Group("/api", middleware.RequireUser())
	InitRestSession(api, svc)
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return resp.StatusCode, env
}

func jsonRequest(method, target, userID, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	return req
}

func TestSessionRoutes_RequireUser(t *testing.T) {
	svc := &mockSessionUsecase{}
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodPost, "/api/sessions", "", `{"label":"main"}`))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
	svc.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestSessionRoutes_CreateSession(t *testing.T) {
	svc := &mockSessionUsecase{}
	svc.On("CreateSession", mock.Anything, domainSession.CreateSessionRequest{UserID: "u1", Label: "main"}).
		Return(session.Session{ID: "s1", UserID: "u1", Label: "main", Status: session.StatusConnecting}, nil)
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodPost, "/api/sessions", "u1", `{"label":"main"}`))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUCCESS", env.Code)
	assert.Contains(t, string(env.Results), `"s1"`)
	svc.AssertExpectations(t)
}

func TestSessionRoutes_UserQueryParameter(t *testing.T) {
	svc := &mockSessionUsecase{}
	svc.On("ListSessions", mock.Anything, "u9").Return([]session.Session{}, nil)
	app := newTestApp(svc)

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions?user_id=u9", nil))
	assert.Equal(t, http.StatusOK, status)
	svc.AssertExpectations(t)
}

func TestSessionRoutes_StatusCloseDelete(t *testing.T) {
	svc := &mockSessionUsecase{}
	req := domainSession.SessionRequest{UserID: "u1", Label: "main"}
	svc.On("GetSessionStatus", mock.Anything, req).
		Return(domainSession.StatusResponse{Label: "main", Status: session.StatusIdle}, nil)
	svc.On("CloseSession", mock.Anything, req).Return(nil)
	svc.On("DeleteSession", mock.Anything, req).Return(nil)
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodGet, "/api/sessions/status?label=main", "u1", ""))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Results), `"idle"`)

	status, _ = doRequest(t, app, jsonRequest(http.MethodPost, "/api/sessions/close", "u1", `{"label":"main"}`))
	assert.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, app, jsonRequest(http.MethodDelete, "/api/sessions?label=main", "u1", ""))
	assert.Equal(t, http.StatusOK, status)
	svc.AssertExpectations(t)
}

func TestSessionRoutes_TypedErrorsMapToStatus(t *testing.T) {
	svc := &mockSessionUsecase{}
	svc.On("SendMessage", mock.Anything, mock.Anything).
		Return(domainSession.SendResponse{}, pkgError.SessionNotConnectedError("u1:main")).Once()
	svc.On("SendMessage", mock.Anything, mock.Anything).
		Return(domainSession.SendResponse{}, pkgError.NewAutomationError("send text", errors.New("socket closed"))).Once()
	svc.On("SendMessage", mock.Anything, mock.Anything).
		Return(domainSession.SendResponse{}, errors.New("boom")).Once()
	app := newTestApp(svc)

	body := `{"label":"main","to":"5511999","text":"hola"}`

	status, env := doRequest(t, app, jsonRequest(http.MethodPost, "/api/messages/text", "u1", body))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SESSION_NOT_CONNECTED", env.Code)

	status, env = doRequest(t, app, jsonRequest(http.MethodPost, "/api/messages/text", "u1", body))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "AUTOMATION_FAILURE", env.Code)
	assert.Contains(t, env.Message, "socket closed")

	status, env = doRequest(t, app, jsonRequest(http.MethodPost, "/api/messages/text", "u1", body))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", env.Code)
}

func TestSessionRoutes_SendTextBadBody(t *testing.T) {
	svc := &mockSessionUsecase{}
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodPost, "/api/messages/text", "u1", `{"label":`))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
	svc.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestSessionRoutes_SendMediaMultipart(t *testing.T) {
	svc := &mockSessionUsecase{}
	svc.On("SendMedia", mock.Anything, mock.MatchedBy(func(r domainSession.SendMediaRequest) bool {
		return r.UserID == "u1" && r.Label == "main" && r.To == "5511999" &&
			r.Kind == "image" && r.Caption == "mira" &&
			r.File != nil && r.File.Filename == "photo.png"
	})).Return(domainSession.SendResponse{MessageID: "m1", ExternalMessageID: "WA1", Status: "Sent"}, nil)
	app := newTestApp(svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("label", "main"))
	require.NoError(t, mw.WriteField("to", "5511999"))
	require.NoError(t, mw.WriteField("type", "image"))
	require.NoError(t, mw.WriteField("caption", "mira"))
	part, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("not really a png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/messages/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderUserID, "u1")

	status, env := doRequest(t, app, req)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Contains(t, string(env.Results), `"WA1"`)
	svc.AssertExpectations(t)
}

func TestSessionRoutes_MessagesQuery(t *testing.T) {
	svc := &mockSessionUsecase{}
	svc.On("GetMessages", mock.Anything, domainSession.MessagesRequest{
		UserID:    "u1",
		SessionID: "s1",
		ChatID:    "5511999",
		Limit:     20,
		Before:    "1700000000",
	}).Return([]message.Message{{ID: "m1", SessionID: "s1"}}, nil)
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodGet,
		"/api/messages?session_id=s1&chat_id=5511999&limit=20&before=1700000000", "u1", ""))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Results), `"m1"`)
	svc.AssertExpectations(t)
}

func TestSessionRoutes_Sync(t *testing.T) {
	svc := &mockSessionUsecase{}
	req := domainSession.SessionRequest{UserID: "u1", Label: "main"}
	svc.On("SyncContacts", mock.Anything, req).
		Return([]contact.SyncedContact{{Address: "5511999", DisplayName: "Ana"}}, nil)
	svc.On("SyncChats", mock.Anything, req).
		Return([]contact.SyncedChat(nil), pkgError.SessionNotConnectedError("u1:main"))
	app := newTestApp(svc)

	status, env := doRequest(t, app, jsonRequest(http.MethodGet, "/api/contacts/sync?label=main", "u1", ""))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Results), `"Ana"`)

	status, env = doRequest(t, app, jsonRequest(http.MethodGet, "/api/chats/sync?label=main", "u1", ""))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SESSION_NOT_CONNECTED", env.Code)
}
