package application

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/AzielCF/az-crm/session/domain/message"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

const (
	inboundIDPrefix     = "in_"
	placeholderIDPrefix = "local_"

	// epoch values above this are milliseconds
	millisecondsThreshold = int64(1e12)
)

// OwnerResolver finds the user that owns a session id.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, sessionID string) (string, error)
}

// OutboundMessage describes what the bridge just sent through a handle.
type OutboundMessage struct {
	To       string
	Content  string
	MediaURL string
	Type     message.Type
}

// Pipeline persists inbound and outbound messages and announces them to
// observers. A message is always stored before its event is broadcast.
type Pipeline struct {
	messages    message.IMessageRepository
	contacts    message.IChatContactRepository
	owners      OwnerResolver
	broadcaster event.Broadcaster
	linker      message.ContactLinker
}

type PipelineOption func(*Pipeline)

// WithContactLinker resolves linkedContactId for new chat contacts.
func WithContactLinker(l message.ContactLinker) PipelineOption {
	return func(p *Pipeline) { p.linker = l }
}

func NewPipeline(
	messages message.IMessageRepository,
	contacts message.IChatContactRepository,
	owners OwnerResolver,
	broadcaster event.Broadcaster,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		messages:    messages,
		contacts:    contacts,
		owners:      owners,
		broadcaster: broadcaster,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestInbound stores a message delivered by a client handle. Redeliveries of
// an already stored (sessionID, external id) pair succeed without side effects.
func (p *Pipeline) IngestInbound(ctx context.Context, sessionID string, raw session.RawMessage) error {
	from := utils.NormalizeAddress(raw.From)
	chatID := utils.NormalizeAddress(raw.ChatID)
	if chatID == "" {
		chatID = from
	}

	externalID := strings.TrimSpace(raw.ID)
	if externalID == "" {
		externalID = inboundIDPrefix + uuid.NewString()
	}

	msg := &message.Message{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		ExternalMessageID: externalID,
		ChatID:            chatID,
		FromAddress:       from,
		ToAddress:         utils.NormalizeAddress(raw.To),
		Content:           utils.FirstNonEmpty(raw.Body, raw.Caption),
		MediaURL:          raw.MediaURL,
		MessageType:       message.ParseType(raw.Type),
		Direction:         message.DirectionIncoming,
		Timestamp:         resolveTimestamp(raw.Timestamp, time.Now()),
	}
	if raw.FromMe {
		// sent from another device of the same account
		msg.Direction = message.DirectionOutgoing
		msg.IsRead = true
		msg.AckLevel = message.AckSent
	}

	if err := p.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, pkgError.ErrDuplicateIgnored) {
			logrus.Debugf("[PIPELINE] Duplicate %s for session %s ignored", externalID, sessionID)
			return nil
		}
		return pkgError.NewPersistenceError("ingest inbound message", err)
	}

	if !raw.FromMe && from != "" {
		if err := p.touchContact(ctx, from, raw.PushName, msg.Timestamp); err != nil {
			logrus.WithError(err).WithField("address", from).Warn("[PIPELINE] Failed to update chat contact")
		}
	}

	p.broadcast(ctx, sessionID, event.New(event.TypeMessageNew, event.MessageNewData{
		SessionID: sessionID,
		Message:   msg,
	}))
	return nil
}

// RecordOutbound stores a message the bridge sent. If the handle returned no
// id a local placeholder is used.
func (p *Pipeline) RecordOutbound(ctx context.Context, sessionID string, out OutboundMessage, res session.SendResult) (*message.Message, error) {
	externalID := strings.TrimSpace(res.ID)
	if externalID == "" {
		externalID = placeholderIDPrefix + uuid.NewString()
	}
	ts := res.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msgType := out.Type
	if msgType == "" {
		msgType = message.TypeText
	}
	to := utils.NormalizeAddress(out.To)

	msg := &message.Message{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		ExternalMessageID: externalID,
		ChatID:            to,
		FromAddress:       utils.NormalizeAddress(res.From),
		ToAddress:         to,
		Content:           out.Content,
		MediaURL:          out.MediaURL,
		MessageType:       msgType,
		Direction:         message.DirectionOutgoing,
		IsRead:            true,
		AckLevel:          message.AckSent,
		Timestamp:         ts,
	}

	if err := p.messages.Create(ctx, msg); err != nil {
		if !errors.Is(err, pkgError.ErrDuplicateIgnored) {
			return nil, pkgError.NewPersistenceError("record outbound message", err)
		}
		stored, getErr := p.messages.GetByExternalID(ctx, sessionID, externalID)
		if getErr != nil {
			return nil, pkgError.NewPersistenceError("record outbound message", getErr)
		}
		return &stored, nil
	}

	p.broadcast(ctx, sessionID, event.New(event.TypeMessageNew, event.MessageNewData{
		SessionID: sessionID,
		Message:   msg,
	}))
	return msg, nil
}

// ApplyAck raises the delivery level of a stored message. Acks for unknown ids
// are expected (they can overtake the insert) and are dropped silently.
func (p *Pipeline) ApplyAck(ctx context.Context, sessionID, externalID string, level message.AckLevel) error {
	found, err := p.messages.ApplyAck(ctx, sessionID, externalID, level, level.MarksRead())
	if err != nil {
		return pkgError.NewPersistenceError("apply ack", err)
	}
	if !found {
		logrus.WithError(pkgError.ErrUnknownAckTarget).
			Debugf("[PIPELINE] Ack %s for %s in session %s", level, externalID, sessionID)
		return nil
	}

	current := level
	if stored, err := p.messages.GetByExternalID(ctx, sessionID, externalID); err == nil {
		current = stored.AckLevel
	}

	p.broadcast(ctx, sessionID, event.New(event.TypeMessageAck, event.MessageAckData{
		SessionID: sessionID,
		MessageID: externalID,
		AckLevel:  int(current),
	}))
	return nil
}

// Messages returns the latest messages of a session, oldest first.
func (p *Pipeline) Messages(ctx context.Context, q message.Query) ([]message.Message, error) {
	if strings.TrimSpace(q.SessionID) == "" {
		return nil, pkgError.ValidationError("session_id is required")
	}
	list, err := p.messages.List(ctx, q)
	if err != nil {
		return nil, pkgError.NewPersistenceError("list messages", err)
	}
	return list, nil
}

func (p *Pipeline) touchContact(ctx context.Context, address, pushName string, seenAt time.Time) error {
	stored, err := p.contacts.Get(ctx, address)
	if err != nil && !errors.Is(err, message.ErrContactNotFound) {
		return err
	}

	contact := &message.ChatContact{
		Address:         address,
		DisplayName:     utils.FirstNonEmpty(pushName, stored.DisplayName, utils.FormatPhone(address)),
		ProfilePicURL:   stored.ProfilePicURL,
		LastSeenAt:      seenAt,
		LinkedContactID: stored.LinkedContactID,
	}

	if contact.LinkedContactID == "" && p.linker != nil && !utils.IsGroupAddress(address) {
		id, ok, err := p.linker.FindContactID(ctx, address)
		if err != nil {
			logrus.WithError(err).Debugf("[PIPELINE] Contact lookup failed for %s", address)
		} else if ok {
			contact.LinkedContactID = id
		}
	}

	return p.contacts.Upsert(ctx, contact)
}

func (p *Pipeline) broadcast(ctx context.Context, sessionID string, evt event.Event) {
	if p.broadcaster == nil || p.owners == nil {
		return
	}
	userID, err := p.owners.OwnerOf(ctx, sessionID)
	if err != nil {
		logrus.WithError(err).Warnf("[PIPELINE] No owner for session %s, %s not broadcast", sessionID, evt.Type)
		return
	}
	p.broadcaster.Broadcast(userID, evt)
}

// resolveTimestamp reads an epoch value of any shape. Non-positive or
// unparseable values mean "now".
func resolveTimestamp(v any, now time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return now
		}
		return t
	case *time.Time:
		if t == nil || t.IsZero() {
			return now
		}
		return *t
	}

	n, err := cast.ToInt64E(v)
	if err != nil || n <= 0 {
		if f, ferr := cast.ToFloat64E(v); ferr == nil && f > 0 {
			n = int64(f)
		} else {
			return now
		}
	}
	if n > millisecondsThreshold {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
