package application_test

import (
	"context"
	"testing"
	"time"

	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_RequiresConnectedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := session.NewKey("u1", "")

	_, err := h.syncer.SyncContacts(ctx, key)
	var notFound pkgError.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = h.registry.CreateSession(ctx, key)
	require.NoError(t, err)

	_, err = h.syncer.SyncContacts(ctx, key)
	var notConnected pkgError.SessionNotConnectedError
	assert.ErrorAs(t, err, &notConnected)

	_, err = h.syncer.SyncChats(ctx, key)
	assert.ErrorAs(t, err, &notConnected)
}

func TestSync_Contacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()
	h.factory.newHandle = func() *fakeHandle {
		return &fakeHandle{
			contacts: []session.RawContact{
				{Address: "5511111111111@s.whatsapp.net", Name: "Stored One", PushName: "Push One", IsMyContact: true},
				{Address: "5511222222222@s.whatsapp.net", Name: "Zed", IsMyContact: true},
				{Address: "5511333333333@s.whatsapp.net", IsMyContact: true},
				{Address: "5511444444444@s.whatsapp.net", Name: "Stranger", IsMyContact: false},
				{Address: "120363000000@g.us", Name: "Group", IsMyContact: true, IsGroup: true},
				{Address: "5511555555555@s.whatsapp.net", Name: "Alpha", IsMyContact: true},
			},
			chats: []session.RawChat{
				{Address: "5511111111111@s.whatsapp.net", Title: "Chat Title", LastActivity: now.Add(-time.Hour), ProfilePicURL: "https://pic/1"},
				{Address: "5511333333333@s.whatsapp.net", LastActivity: now},
			},
		}
	}
	key := session.NewKey("u1", "")
	h.connect(t, key, "5511999999999")

	contacts, err := h.syncer.SyncContacts(ctx, key)
	require.NoError(t, err)
	require.Len(t, contacts, 4)

	// newest activity first, unknown activity last ordered by name
	assert.Equal(t, "5511333333333", contacts[0].Address)
	assert.Equal(t, "+55 11 33333-3333", contacts[0].DisplayName)
	assert.Equal(t, "5511111111111", contacts[1].Address)
	assert.Equal(t, "Chat Title", contacts[1].DisplayName)
	assert.Equal(t, "https://pic/1", contacts[1].ProfilePicURL)
	require.NotNil(t, contacts[1].LastActivity)
	assert.Equal(t, "Alpha", contacts[2].DisplayName)
	assert.Nil(t, contacts[2].LastActivity)
	assert.Equal(t, "Zed", contacts[3].DisplayName)
}

func TestSync_Chats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()
	h.factory.newHandle = func() *fakeHandle {
		return &fakeHandle{
			contacts: []session.RawContact{
				{Address: "5511222222222@s.whatsapp.net", Name: "Bea", IsMyContact: true},
			},
			chats: []session.RawChat{
				{Address: "status@broadcast", Title: "Status", LastActivity: now},
				{Address: "120363000000@g.us", Title: "Equipo", IsGroup: true, LastActivity: now.Add(-time.Minute), UnreadCount: 3},
				{Address: "5511222222222@s.whatsapp.net", LastActivity: now.Add(-2 * time.Minute)},
				{Address: "5511333333333@s.whatsapp.net"},
			},
		}
	}
	key := session.NewKey("u1", "")
	h.connect(t, key, "5511999999999")

	chats, err := h.syncer.SyncChats(ctx, key)
	require.NoError(t, err)
	require.Len(t, chats, 3)

	assert.Equal(t, "Equipo", chats[0].Name)
	assert.True(t, chats[0].IsGroup)
	assert.Equal(t, 3, chats[0].UnreadCount)
	assert.Equal(t, "Bea", chats[1].Name)
	assert.Equal(t, "+55 11 33333-3333", chats[2].Name)
	assert.Nil(t, chats[2].LastActivity)
}
