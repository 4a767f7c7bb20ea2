package session

import (
	"context"
	"time"
)

// MediaKind is the coarse media category understood by client handles.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

type MediaPayload struct {
	Kind     MediaKind
	Data     []byte
	MimeType string
	FileName string
	Caption  string
	// URL is where the bridge stored a copy, if it did.
	URL string
}

// SendResult is what a handle reports after a successful send.
type SendResult struct {
	ID        string
	From      string
	Timestamp time.Time
}

// Identity is the account the handle is logged in as.
type Identity struct {
	User     string `json:"user"`
	Server   string `json:"server,omitempty"`
	PushName string `json:"push_name,omitempty"`
}

// StatusInfo accompanies a raw status change.
type StatusInfo struct {
	Me     *Identity      `json:"me,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// RawMessage is an inbound message as delivered by a handle. Fields may be
// missing; the pipeline fills defaults.
type RawMessage struct {
	ID        string
	ChatID    string
	From      string
	To        string
	Body      string
	Caption   string
	Type      string
	MediaURL  string
	PushName  string
	FromMe    bool
	IsGroup   bool
	Timestamp any
}

// RawContact is one entry of the handle's address book.
type RawContact struct {
	Address       string
	Name          string
	ShortName     string
	PushName      string
	ProfilePicURL string
	IsGroup       bool
	IsMyContact   bool
}

// RawChat is one conversation known to the handle.
type RawChat struct {
	Address       string
	Title         string
	IsGroup       bool
	UnreadCount   int
	LastActivity  time.Time
	ProfilePicURL string
}

// ClientHandle is the live handle to one external chat client instance.
type ClientHandle interface {
	SendText(ctx context.Context, address, text string) (SendResult, error)
	SendMedia(ctx context.Context, address string, media MediaPayload) (SendResult, error)
	Close(ctx context.Context) error
	ConnectionState() string
	ListContacts(ctx context.Context) ([]RawContact, error)
	ListChats(ctx context.Context) ([]RawChat, error)
}

// Logouter is implemented by handles that can unpair the account.
type Logouter interface {
	Logout(ctx context.Context) error
}

// Callbacks are invoked by a handle from whatever goroutine it owns. They may
// arrive concurrently, out of order or more than once.
type Callbacks struct {
	OnQRCode       func(raw string)
	OnStatusChange func(raw string, info StatusInfo)
	OnMessage      func(msg RawMessage)
	OnAck          func(externalID string, level int)
}

type CreateRequest struct {
	Key       Key
	SessionID string
	Callbacks Callbacks
}

// HandleFactory starts a new client handle. Create returns once the client is
// running; pairing and login continue in the background via callbacks.
type HandleFactory interface {
	Create(ctx context.Context, req CreateRequest) (ClientHandle, error)
}

// ArtifactCleaner removes on-disk automation state for a key.
type ArtifactCleaner interface {
	Clear(key Key) error
}
