package whatsapp

import (
	"fmt"
	"strings"

	pkgUtils "github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// parseAddress turns a normalized chat address back into a jid. Bare digit
// strings are phone users.
func parseAddress(address string) (types.JID, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.EmptyJID, fmt.Errorf("empty address")
	}
	if strings.Contains(address, "@") {
		jid, err := types.ParseJID(address)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("invalid address %q: %w", address, err)
		}
		return jid, nil
	}
	digits := pkgUtils.DigitsOnly(address)
	if digits == "" {
		return types.EmptyJID, fmt.Errorf("invalid address %q", address)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func isStatusBroadcast(jid types.JID) bool {
	return jid.Server == types.BroadcastServer || jid.User == "status"
}

// ackLevel maps receipts onto the delivery ordinal (2 delivered, 3 read,
// 4 played). Other receipt kinds carry no delivery information.
func ackLevel(t types.ReceiptType) (int, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return 2, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return 3, true
	case types.ReceiptTypePlayed, types.ReceiptTypePlayedSelf:
		return 4, true
	}
	return 0, false
}

func uploadType(kind session.MediaKind) whatsmeow.MediaType {
	switch kind {
	case session.MediaImage, session.MediaSticker:
		return whatsmeow.MediaImage
	case session.MediaVideo:
		return whatsmeow.MediaVideo
	case session.MediaAudio:
		return whatsmeow.MediaAudio
	}
	return whatsmeow.MediaDocument
}

func buildMediaMessage(media session.MediaPayload, up whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Kind {
	case session.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(media.Caption),
		}}
	case session.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(media.Caption),
		}}
	case session.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			PTT:           proto.Bool(strings.Contains(media.MimeType, "ogg")),
		}}
	case session.MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(media.MimeType),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Caption:       proto.String(media.Caption),
		FileName:      proto.String(media.FileName),
		Title:         proto.String(media.FileName),
	}}
}

// messageContent extracts the type, text and caption of a message.
func messageContent(msg *waE2E.Message) (kind, body, caption string) {
	if msg == nil {
		return "", "", ""
	}
	// unwrap ephemeral / view once containers
	if inner := msg.GetEphemeralMessage().GetMessage(); inner != nil {
		return messageContent(inner)
	}
	if inner := msg.GetViewOnceMessage().GetMessage(); inner != nil {
		return messageContent(inner)
	}
	if inner := msg.GetViewOnceMessageV2().GetMessage(); inner != nil {
		return messageContent(inner)
	}
	if inner := msg.GetDocumentWithCaptionMessage().GetMessage(); inner != nil {
		return messageContent(inner)
	}

	switch {
	case msg.GetConversation() != "":
		return "text", msg.GetConversation(), ""
	case msg.GetExtendedTextMessage() != nil:
		return "text", msg.GetExtendedTextMessage().GetText(), ""
	case msg.GetImageMessage() != nil:
		return "image", "", msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return "video", "", msg.GetVideoMessage().GetCaption()
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt", "", ""
		}
		return "audio", "", ""
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return "document", "", pkgUtils.FirstNonEmpty(doc.GetCaption(), doc.GetFileName())
	case msg.GetStickerMessage() != nil:
		return "sticker", "", ""
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		return "location", fmt.Sprintf("%f,%f", loc.GetDegreesLatitude(), loc.GetDegreesLongitude()), loc.GetName()
	case msg.GetLiveLocationMessage() != nil:
		return "live_location", "", msg.GetLiveLocationMessage().GetCaption()
	case msg.GetContactMessage() != nil:
		return "vcard", msg.GetContactMessage().GetVcard(), msg.GetContactMessage().GetDisplayName()
	case msg.GetContactsArrayMessage() != nil:
		return "multi_vcard", "", msg.GetContactsArrayMessage().GetDisplayName()
	}
	return "other", "", ""
}

// toRawMessage maps the protocol fields; addresses are resolved by the handle.
func toRawMessage(evt *events.Message) session.RawMessage {
	kind, body, caption := messageContent(evt.Message)
	return session.RawMessage{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.ToNonAD().String(),
		From:      evt.Info.Sender.ToNonAD().String(),
		Body:      body,
		Caption:   caption,
		Type:      kind,
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		Timestamp: evt.Info.Timestamp,
	}
}
