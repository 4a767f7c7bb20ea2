package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	pkgUtils "github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

var ErrNotLoggedIn = errors.New("whatsapp client not logged in")

// Handle is one running whatsmeow client bound to a session.
type Handle struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	callbacks session.Callbacks
	sessionID string
	handlerID uint32
	// jidFile remembers the paired device when the store is shared.
	jidFile string

	chats *chatTracker

	closeOnce sync.Once
}

func newHandle(client *whatsmeow.Client, container *sqlstore.Container, callbacks session.Callbacks, sessionID string) *Handle {
	return &Handle{
		client:    client,
		container: container,
		callbacks: callbacks,
		sessionID: sessionID,
		chats:     newChatTracker(),
	}
}

func (h *Handle) SendText(ctx context.Context, address, text string) (session.SendResult, error) {
	jid, err := parseAddress(address)
	if err != nil {
		return session.SendResult{}, err
	}
	if !h.client.IsLoggedIn() {
		return session.SendResult{}, ErrNotLoggedIn
	}

	resp, err := h.client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(text)},
	})
	if err != nil {
		return session.SendResult{}, err
	}
	h.chats.touch(jid, "", resp.Timestamp, false)
	return session.SendResult{ID: resp.ID, From: h.me(), Timestamp: resp.Timestamp}, nil
}

func (h *Handle) SendMedia(ctx context.Context, address string, media session.MediaPayload) (session.SendResult, error) {
	jid, err := parseAddress(address)
	if err != nil {
		return session.SendResult{}, err
	}
	if !h.client.IsLoggedIn() {
		return session.SendResult{}, ErrNotLoggedIn
	}

	uploaded, err := h.client.Upload(ctx, media.Data, uploadType(media.Kind))
	if err != nil {
		return session.SendResult{}, fmt.Errorf("failed to upload media: %w", err)
	}

	msg := buildMediaMessage(media, uploaded)
	if msg.ImageMessage != nil {
		if thumb, err := thumbnail(media.Data); err == nil {
			msg.ImageMessage.JPEGThumbnail = thumb
		} else {
			logrus.Debugf("[WHATSAPP] No thumbnail for %s: %v", media.FileName, err)
		}
	}

	resp, err := h.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return session.SendResult{}, err
	}
	h.chats.touch(jid, "", resp.Timestamp, false)
	return session.SendResult{ID: resp.ID, From: h.me(), Timestamp: resp.Timestamp}, nil
}

// Close disconnects and releases the device store. Safe to call twice.
func (h *Handle) Close(context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		err = h.shutdownErr()
	})
	return err
}

func (h *Handle) shutdown() {
	h.closeOnce.Do(func() {
		_ = h.shutdownErr()
	})
}

func (h *Handle) shutdownErr() error {
	if h.handlerID != 0 {
		h.client.RemoveEventHandler(h.handlerID)
	}
	h.client.Disconnect()
	if h.container != nil {
		return h.container.Close()
	}
	return nil
}

// Logout unpairs the device on the phone. "Already logged out" is success.
func (h *Handle) Logout(ctx context.Context) error {
	if !h.client.IsLoggedIn() {
		return nil
	}
	err := h.client.Logout(ctx)
	if err != nil && (strings.Contains(err.Error(), "not logged in") || strings.Contains(err.Error(), "401")) {
		err = nil
	}
	if h.jidFile != "" {
		_ = os.Remove(h.jidFile)
	}
	return err
}

func (h *Handle) ConnectionState() string {
	switch {
	case h.client.IsConnected() && h.client.IsLoggedIn():
		return "connected"
	case h.client.IsConnected():
		return "notLogged"
	}
	return "disconnected"
}

func (h *Handle) ListContacts(ctx context.Context) ([]session.RawContact, error) {
	if h.client.Store == nil || h.client.Store.Contacts == nil {
		return nil, ErrNotLoggedIn
	}
	all, err := h.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]session.RawContact, 0, len(all))
	for jid, info := range all {
		out = append(out, session.RawContact{
			Address:     h.phoneAddress(ctx, jid),
			Name:        info.FullName,
			ShortName:   info.FirstName,
			PushName:    pkgUtils.FirstNonEmpty(info.PushName, info.BusinessName),
			IsGroup:     jid.Server == types.GroupServer,
			IsMyContact: info.Found && info.FullName != "",
		})
	}
	return out, nil
}

// ListChats returns the conversations seen through history sync and live
// traffic, with group titles filled from the joined group list.
func (h *Handle) ListChats(ctx context.Context) ([]session.RawChat, error) {
	if !h.client.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if groups, err := h.client.GetJoinedGroups(ctx); err == nil {
		for _, g := range groups {
			h.chats.title(g.JID, g.GroupName.Name)
		}
	} else {
		logrus.WithError(err).Debug("[WHATSAPP] Joined groups unavailable")
	}
	return h.chats.list(), nil
}

func (h *Handle) me() string {
	if h.client.Store == nil || h.client.Store.ID == nil {
		return ""
	}
	return h.client.Store.ID.ToNonAD().String()
}

// phoneAddress prefers the phone number form of a jid so addresses stay
// comparable across LID and PN traffic.
func (h *Handle) phoneAddress(ctx context.Context, jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer || h.client.Store == nil || h.client.Store.LIDs == nil {
		return jid.String()
	}
	pn, err := h.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid.String()
	}
	return pn.ToNonAD().String()
}

func thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	small := imaging.Resize(img, 100, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
