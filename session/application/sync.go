package application

import (
	"context"
	"slices"
	"strings"
	"time"

	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/contact"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Syncer reads the address book and chat list of a Connected session. It has
// no side effects; callers decide what to materialize.
type Syncer struct {
	registry *Registry
}

func NewSyncer(registry *Registry) *Syncer {
	return &Syncer{registry: registry}
}

func (s *Syncer) SyncContacts(ctx context.Context, key session.Key) ([]contact.SyncedContact, error) {
	_, handle, err := s.registry.connectedHandle(key)
	if err != nil {
		return nil, err
	}

	raw, err := handle.ListContacts(ctx)
	if err != nil {
		return nil, pkgError.NewAutomationError("list contacts", err)
	}

	// Chats only enrich the result; a failure here is not fatal.
	chats, err := handle.ListChats(ctx)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("[SYNC] Chat list unavailable, contacts without activity")
	}
	chatByAddr := lo.KeyBy(chats, func(c session.RawChat) string {
		return utils.NormalizeAddress(c.Address)
	})

	personal := lo.Filter(raw, func(c session.RawContact, _ int) bool {
		return c.IsMyContact && !c.IsGroup && !utils.IsGroupAddress(c.Address) && !utils.IsBroadcastAddress(c.Address)
	})
	personal = lo.UniqBy(personal, func(c session.RawContact) string {
		return utils.NormalizeAddress(c.Address)
	})

	result := lo.Map(personal, func(c session.RawContact, _ int) contact.SyncedContact {
		addr := utils.NormalizeAddress(c.Address)
		chat, hasChat := chatByAddr[addr]

		synced := contact.SyncedContact{
			Address:       addr,
			PushName:      c.PushName,
			ProfilePicURL: c.ProfilePicURL,
		}
		title := ""
		if hasChat {
			title = chat.Title
			synced.ProfilePicURL = utils.FirstNonEmpty(chat.ProfilePicURL, c.ProfilePicURL)
			synced.LastActivity = activity(chat.LastActivity)
		}
		synced.DisplayName = utils.FirstNonEmpty(title, c.PushName, c.Name, c.ShortName, utils.FormatPhone(addr))
		return synced
	})

	slices.SortStableFunc(result, func(a, b contact.SyncedContact) int {
		return compareActivity(a.LastActivity, b.LastActivity, a.DisplayName, b.DisplayName)
	})
	logrus.Debugf("[SYNC] %d contacts for %s", len(result), key)
	return result, nil
}

func (s *Syncer) SyncChats(ctx context.Context, key session.Key) ([]contact.SyncedChat, error) {
	_, handle, err := s.registry.connectedHandle(key)
	if err != nil {
		return nil, err
	}

	raw, err := handle.ListChats(ctx)
	if err != nil {
		return nil, pkgError.NewAutomationError("list chats", err)
	}

	contacts, err := handle.ListContacts(ctx)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("[SYNC] Contact list unavailable, chats named by address")
	}
	nameByAddr := lo.Associate(contacts, func(c session.RawContact) (string, string) {
		return utils.NormalizeAddress(c.Address), utils.FirstNonEmpty(c.Name, c.PushName, c.ShortName)
	})

	visible := lo.Filter(raw, func(c session.RawChat, _ int) bool {
		return !utils.IsBroadcastAddress(c.Address)
	})
	visible = lo.UniqBy(visible, func(c session.RawChat) string {
		return utils.NormalizeAddress(c.Address)
	})

	result := lo.Map(visible, func(c session.RawChat, _ int) contact.SyncedChat {
		addr := utils.NormalizeAddress(c.Address)
		isGroup := c.IsGroup || utils.IsGroupAddress(addr)
		fallback := utils.FormatPhone(addr)
		if isGroup {
			fallback = addr
		}
		return contact.SyncedChat{
			Address:       addr,
			Name:          utils.FirstNonEmpty(c.Title, nameByAddr[addr], fallback),
			IsGroup:       isGroup,
			UnreadCount:   c.UnreadCount,
			ProfilePicURL: c.ProfilePicURL,
			LastActivity:  activity(c.LastActivity),
		}
	})

	slices.SortStableFunc(result, func(a, b contact.SyncedChat) int {
		return compareActivity(a.LastActivity, b.LastActivity, a.Name, b.Name)
	})
	logrus.Debugf("[SYNC] %d chats for %s", len(result), key)
	return result, nil
}

func activity(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// compareActivity orders newest first, unknown activity last, then by name.
func compareActivity(a, b *time.Time, nameA, nameB string) int {
	switch {
	case a == nil && b == nil:
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return strings.Compare(strings.ToLower(nameA), strings.ToLower(nameB))
}
