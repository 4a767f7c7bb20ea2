package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultLabel is used when a caller does not name the session.
const DefaultLabel = "default"

// Key identifies one logical session. It is compared as a value and never
// derived from, or parsed out of, a formatted string.
type Key struct {
	UserID string
	Label  string
}

// NewKey trims both parts and applies DefaultLabel.
func NewKey(userID, label string) Key {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	return Key{UserID: strings.TrimSpace(userID), Label: label}
}

func (k Key) IsZero() bool {
	return k.UserID == ""
}

// String is meant for logs and lock names only.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.Label)
}

type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Label          string    `json:"label"`
	Status         Status    `json:"status"`
	PhoneNumber    string    `json:"phone_number,omitempty"`
	QRCode         string    `json:"qr_code,omitempty"`
	IsActive       bool      `json:"is_active"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s Session) Key() Key {
	return Key{UserID: s.UserID, Label: s.Label}
}
