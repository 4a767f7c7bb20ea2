package message

import (
	"context"
	"errors"
	"time"
)

var ErrContactNotFound = errors.New("chat contact not found")

// ChatContact is the lightweight record kept for every address that ever
// wrote to a session.
type ChatContact struct {
	Address         string    `json:"address"`
	DisplayName     string    `json:"display_name"`
	ProfilePicURL   string    `json:"profile_pic_url,omitempty"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	LinkedContactID string    `json:"linked_contact_id,omitempty"`
}

// ContactLinker looks up the CRM contact that owns a phone address. It is a
// weak reference: lookups only, nothing cascades.
type ContactLinker interface {
	FindContactID(ctx context.Context, address string) (string, bool, error)
}
