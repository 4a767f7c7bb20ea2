package message

import (
	"errors"
	"time"
)

var ErrMessageNotFound = errors.New("message not found")

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeVideo    Type = "video"
	TypeAudio    Type = "audio"
	TypeDocument Type = "document"
	TypeSticker  Type = "sticker"
	TypeLocation Type = "location"
	TypeContact  Type = "contact"
	TypeOther    Type = "other"
)

// ParseType accepts the loose vocabulary of client handles ("chat", "ptt", ...).
func ParseType(raw string) Type {
	switch raw {
	case "", "text", "chat", "conversation", "extendedText":
		return TypeText
	case "image":
		return TypeImage
	case "video", "gif":
		return TypeVideo
	case "audio", "ptt", "voice":
		return TypeAudio
	case "document", "file":
		return TypeDocument
	case "sticker":
		return TypeSticker
	case "location", "live_location":
		return TypeLocation
	case "vcard", "contact", "multi_vcard":
		return TypeContact
	}
	return TypeOther
}

// AckLevel is the ordinal delivery tier of a message.
type AckLevel int

const (
	AckError     AckLevel = -1
	AckPending   AckLevel = 0
	AckSent      AckLevel = 1
	AckDelivered AckLevel = 2
	AckRead      AckLevel = 3
	AckPlayed    AckLevel = 4
)

func (a AckLevel) String() string {
	switch a {
	case AckError:
		return "error"
	case AckPending:
		return "pending"
	case AckSent:
		return "sent"
	case AckDelivered:
		return "delivered"
	case AckRead:
		return "read"
	case AckPlayed:
		return "played"
	}
	return "unknown"
}

// MarksRead reports whether the level crosses the delivered threshold.
func (a AckLevel) MarksRead() bool {
	return a >= AckDelivered
}

type Message struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	ExternalMessageID string    `json:"external_message_id"`
	ChatID            string    `json:"chat_id"`
	FromAddress       string    `json:"from"`
	ToAddress         string    `json:"to"`
	Content           string    `json:"content"`
	MediaURL          string    `json:"media_url,omitempty"`
	MessageType       Type      `json:"message_type"`
	Direction         Direction `json:"direction"`
	IsRead            bool      `json:"is_read"`
	AckLevel          AckLevel  `json:"ack_level"`
	Timestamp         time.Time `json:"timestamp"`
	CreatedAt         time.Time `json:"created_at"`
}

// Query selects messages of one session, optionally narrowed to a chat.
type Query struct {
	SessionID string
	ChatID    string
	Limit     int
	Before    time.Time
}

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

func (q Query) NormalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	}
	return q.Limit
}
