package session

import (
	"context"
	"mime/multipart"

	"github.com/AzielCF/az-crm/session/domain/contact"
	"github.com/AzielCF/az-crm/session/domain/message"
	domainSession "github.com/AzielCF/az-crm/session/domain/session"
)

// SessionRequest addresses one session of the calling user.
type SessionRequest struct {
	UserID string `json:"-"`
	Label  string `json:"label" form:"label" query:"label"`
}

type CreateSessionRequest struct {
	UserID string `json:"-"`
	Label  string `json:"label" form:"label"`
}

type StatusResponse struct {
	SessionID   string               `json:"session_id,omitempty"`
	Label       string               `json:"label"`
	Status      domainSession.Status `json:"status"`
	PhoneNumber string               `json:"phone_number,omitempty"`
}

type SendTextRequest struct {
	UserID string `json:"-"`
	Label  string `json:"label" form:"label"`
	To     string `json:"to" form:"to"`
	Text   string `json:"text" form:"text"`
}

// SendMediaRequest carries either an uploaded file or a URL to fetch.
type SendMediaRequest struct {
	UserID   string                `json:"-"`
	Label    string                `json:"label" form:"label"`
	To       string                `json:"to" form:"to"`
	Kind     string                `json:"type" form:"type"`
	Caption  string                `json:"caption" form:"caption"`
	MediaURL string                `json:"media_url" form:"media_url"`
	File     *multipart.FileHeader `json:"-" form:"file"`
}

type SendResponse struct {
	MessageID         string `json:"message_id"`
	ExternalMessageID string `json:"external_message_id"`
	Status            string `json:"status"`
}

// MessagesRequest selects a session by id or, when empty, by label.
type MessagesRequest struct {
	UserID    string `json:"-"`
	SessionID string `json:"session_id" query:"session_id"`
	Label     string `json:"label" query:"label"`
	ChatID    string `json:"chat_id" query:"chat_id"`
	Limit     int    `json:"limit" query:"limit"`
	// Before is RFC3339 or epoch seconds.
	Before string `json:"before" query:"before"`
}

type ISessionUsecase interface {
	CreateSession(ctx context.Context, request CreateSessionRequest) (domainSession.Session, error)
	ListSessions(ctx context.Context, userID string) ([]domainSession.Session, error)
	GetSessionStatus(ctx context.Context, request SessionRequest) (StatusResponse, error)
	CloseSession(ctx context.Context, request SessionRequest) error
	DeleteSession(ctx context.Context, request SessionRequest) error
	SendMessage(ctx context.Context, request SendTextRequest) (SendResponse, error)
	SendMedia(ctx context.Context, request SendMediaRequest) (SendResponse, error)
	GetMessages(ctx context.Context, request MessagesRequest) ([]message.Message, error)
	SyncContacts(ctx context.Context, request SessionRequest) ([]contact.SyncedContact, error)
	SyncChats(ctx context.Context, request SessionRequest) ([]contact.SyncedChat, error)
}
