package whatsapp

import (
	"context"
	"os"

	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Raw statuses reported to the registry. They are the vocabulary understood
// by session.MapRawStatus.
const (
	rawLogged        = "isLogged"
	rawPairing       = "qrReadSuccess"
	rawQRFailed      = "qrReadFail"
	rawLoggedOut     = "logout"
	rawDisconnected  = "disconnected"
	rawServerClose   = "serverClose"
	rawClientFailure = "error"
)

// handleEvent turns whatsmeow events into session callbacks. It runs on the
// whatsmeow dispatcher goroutine and must not block.
func (h *Handle) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		if h.client.IsLoggedIn() {
			h.status(rawLogged, h.identity())
		}

	case *events.PairSuccess:
		if h.jidFile != "" {
			if err := os.WriteFile(h.jidFile, []byte(evt.ID.String()), 0600); err != nil {
				logrus.WithError(err).Warn("[WHATSAPP] Could not remember paired device")
			}
		}
		h.status(rawPairing, session.StatusInfo{Me: &session.Identity{User: evt.ID.User, Server: evt.ID.Server, PushName: evt.BusinessName}})

	case *events.LoggedOut:
		h.status(rawLoggedOut, session.StatusInfo{Reason: evt.Reason.String()})

	case *events.Disconnected:
		// auto reconnect is on; this is transient
		h.status(rawDisconnected, session.StatusInfo{})

	case *events.StreamReplaced:
		h.status(rawServerClose, session.StatusInfo{Reason: "stream replaced by another client"})

	case *events.ConnectFailure:
		h.status(rawClientFailure, session.StatusInfo{Reason: evt.Reason.String()})

	case *events.TemporaryBan:
		h.status(rawClientFailure, session.StatusInfo{Reason: evt.String()})

	case *events.ClientOutdated:
		h.status(rawClientFailure, session.StatusInfo{Reason: "client outdated"})

	case *events.Message:
		if isStatusBroadcast(evt.Info.Chat) || evt.Info.IsIncomingBroadcast() {
			return
		}
		ctx := context.Background()
		raw := toRawMessage(evt)
		raw.ChatID = h.phoneAddress(ctx, evt.Info.Chat)
		raw.From = h.phoneAddress(ctx, evt.Info.Sender)
		raw.To = h.me()
		h.chats.touch(evt.Info.Chat, "", evt.Info.Timestamp, !evt.Info.IsFromMe)
		if h.callbacks.OnMessage != nil {
			h.callbacks.OnMessage(raw)
		}

	case *events.Receipt:
		level, ok := ackLevel(evt.Type)
		if !ok || h.callbacks.OnAck == nil {
			return
		}
		for _, id := range evt.MessageIDs {
			h.callbacks.OnAck(id, level)
		}

	case *events.HistorySync:
		for _, conv := range evt.Data.GetConversations() {
			jid, err := types.ParseJID(conv.GetID())
			if err != nil || isStatusBroadcast(jid) {
				continue
			}
			h.chats.restore(jid, conv.GetName(), int64(conv.GetConversationTimestamp()), int(conv.GetUnreadCount()))
		}
	}
}

func (h *Handle) status(raw string, info session.StatusInfo) {
	logrus.WithField("session_id", h.sessionID).Debugf("[WHATSAPP] Status %s", raw)
	if h.callbacks.OnStatusChange != nil {
		h.callbacks.OnStatusChange(raw, info)
	}
}

func (h *Handle) identity() session.StatusInfo {
	if h.client.Store == nil || h.client.Store.ID == nil {
		return session.StatusInfo{}
	}
	return session.StatusInfo{Me: &session.Identity{
		User:     h.client.Store.ID.User,
		Server:   h.client.Store.ID.Server,
		PushName: h.client.Store.PushName,
	}}
}

// watchQR forwards pairing codes until the channel closes.
func (h *Handle) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if h.callbacks.OnQRCode != nil {
				h.callbacks.OnQRCode(item.Code)
			}
		case whatsmeow.QRChannelSuccess.Event:
			// the Connected event reports the login
		case whatsmeow.QRChannelTimeout.Event:
			h.status(rawQRFailed, session.StatusInfo{Reason: "qr code expired"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			h.status(rawQRFailed, session.StatusInfo{Reason: reason})
		}
	}
}
