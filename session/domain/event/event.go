package event

import "time"

// Event types pushed to observers.
const (
	TypeConnected     = "connected"
	TypeSessionQR     = "session.qr"
	TypeSessionStatus = "session.status"
	TypeMessageNew    = "message.new"
	TypeMessageAck    = "message.ack"
	TypePong          = "pong"
	TypeCommandResult = "command.result"
	TypeSystem        = "system"
)

// Event is the envelope written to every observer connection.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(eventType string, data any) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}

type ConnectedData struct {
	ObserverID string `json:"observerId"`
	UserID     string `json:"userId"`
}

type SessionQRData struct {
	SessionID string `json:"sessionId"`
	QRCode    string `json:"qrCode"`
	QRImage   string `json:"qrImage,omitempty"`
}

type SessionStatusData struct {
	SessionID   string `json:"sessionId"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type MessageNewData struct {
	SessionID string `json:"sessionId"`
	Message   any    `json:"message"`
}

type MessageAckData struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	AckLevel  int    `json:"ackLevel"`
}

// Broadcaster delivers events to the observers of a user. Implementations are
// best-effort and never fail the caller.
type Broadcaster interface {
	Broadcast(userID string, evt Event)
	BroadcastAll(evt Event)
}
