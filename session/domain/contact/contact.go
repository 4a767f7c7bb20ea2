package contact

import "time"

// SyncedContact is one address-book entry reconciled with the chat list.
type SyncedContact struct {
	Address       string     `json:"address"`
	DisplayName   string     `json:"display_name"`
	PushName      string     `json:"push_name,omitempty"`
	ProfilePicURL string     `json:"profile_pic_url,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// SyncedChat is one conversation with a resolved display name.
type SyncedChat struct {
	Address       string     `json:"address"`
	Name          string     `json:"name"`
	IsGroup       bool       `json:"is_group"`
	UnreadCount   int        `json:"unread_count"`
	ProfilePicURL string     `json:"profile_pic_url,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}
