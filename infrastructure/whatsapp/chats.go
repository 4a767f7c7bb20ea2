package whatsapp

import (
	"sync"
	"time"

	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/samber/lo"
	"go.mau.fi/whatsmeow/types"
)

// chatTracker remembers the conversations of a client. whatsmeow keeps no
// chat list of its own, so it is rebuilt from history sync and live traffic.
type chatTracker struct {
	mu    sync.RWMutex
	chats map[types.JID]*session.RawChat
}

func newChatTracker() *chatTracker {
	return &chatTracker{chats: make(map[types.JID]*session.RawChat)}
}

func (t *chatTracker) get(jid types.JID) *session.RawChat {
	jid = jid.ToNonAD()
	c, ok := t.chats[jid]
	if !ok {
		c = &session.RawChat{Address: jid.String(), IsGroup: jid.Server == types.GroupServer}
		t.chats[jid] = c
	}
	return c
}

// touch records activity; incoming messages also count as unread.
func (t *chatTracker) touch(jid types.JID, title string, at time.Time, incoming bool) {
	if jid.IsEmpty() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(jid)
	if title != "" {
		c.Title = title
	}
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
	if incoming {
		c.UnreadCount++
	}
}

// restore applies one history sync conversation.
func (t *chatTracker) restore(jid types.JID, title string, unixTS int64, unread int) {
	var at time.Time
	if unixTS > 0 {
		at = time.Unix(unixTS, 0)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(jid)
	if title != "" {
		c.Title = title
	}
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
	c.UnreadCount = unread
}

func (t *chatTracker) title(jid types.JID, title string) {
	if title == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(jid).Title = title
}

func (t *chatTracker) list() []session.RawChat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.MapToSlice(t.chats, func(_ types.JID, c *session.RawChat) session.RawChat {
		return *c
	})
}
