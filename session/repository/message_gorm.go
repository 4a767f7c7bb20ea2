package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AzielCF/az-crm/session/domain/message"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type messageModel struct {
	// Seq keeps insertion order for messages sharing a timestamp.
	Seq               uint64    `gorm:"primaryKey;autoIncrement;column:seq"`
	ID                string    `gorm:"column:id;not null;uniqueIndex"`
	SessionID         string    `gorm:"column:session_id;not null;uniqueIndex:idx_message_session_external;index:idx_message_chat_ts,priority:1"`
	ExternalMessageID string    `gorm:"column:external_message_id;not null;uniqueIndex:idx_message_session_external"`
	ChatID            string    `gorm:"column:chat_id;not null;index:idx_message_chat_ts,priority:2"`
	FromAddress       string    `gorm:"column:from_address"`
	ToAddress         string    `gorm:"column:to_address"`
	Content           string    `gorm:"column:content;type:text"`
	MediaURL          string    `gorm:"column:media_url"`
	MessageType       string    `gorm:"column:message_type;not null;default:'text'"`
	Direction         string    `gorm:"column:direction;not null"`
	IsRead            bool      `gorm:"column:is_read;not null;default:false"`
	AckLevel          int       `gorm:"column:ack_level;not null;default:0"`
	Timestamp         time.Time `gorm:"column:timestamp;not null;index:idx_message_chat_ts,priority:3"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
}

func (messageModel) TableName() string { return "crm_messages" }

type MessageGormRepository struct {
	db *gorm.DB
}

func NewMessageGormRepository(db *gorm.DB) *MessageGormRepository {
	return &MessageGormRepository{db: db}
}

func (r *MessageGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&messageModel{})
}

// Create relies on the (session_id, external_message_id) unique index so that
// concurrent redeliveries of one message resolve to a single row.
func (r *MessageGormRepository) Create(ctx context.Context, m *message.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	model := toMessageModel(*m)

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "external_message_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.ErrDuplicateIgnored
	}
	return nil
}

func (r *MessageGormRepository) GetByExternalID(ctx context.Context, sessionID, externalID string) (message.Message, error) {
	var m messageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND external_message_id = ?", sessionID, externalID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, message.ErrMessageNotFound
		}
		return message.Message{}, err
	}
	return fromMessageModel(m), nil
}

// ApplyAck never lowers the stored level: acks can arrive out of order.
func (r *MessageGormRepository) ApplyAck(ctx context.Context, sessionID, externalID string, level message.AckLevel, markRead bool) (bool, error) {
	updates := map[string]any{
		"ack_level": gorm.Expr("CASE WHEN ack_level < ? THEN ? ELSE ack_level END", int(level), int(level)),
	}
	if markRead {
		updates["is_read"] = true
	}

	res := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("session_id = ? AND external_message_id = ?", sessionID, externalID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List returns the newest q.Limit messages, oldest first.
func (r *MessageGormRepository) List(ctx context.Context, q message.Query) ([]message.Message, error) {
	tx := r.db.WithContext(ctx).Model(&messageModel{}).Where("session_id = ?", q.SessionID)
	if q.ChatID != "" {
		tx = tx.Where("chat_id = ?", q.ChatID)
	}
	if !q.Before.IsZero() {
		tx = tx.Where("timestamp < ?", q.Before.UTC())
	}

	var models []messageModel
	err := tx.Order("timestamp DESC").Order("seq DESC").Limit(q.NormalizedLimit()).Find(&models).Error
	if err != nil {
		return nil, err
	}

	res := make([]message.Message, len(models))
	for i, m := range models {
		res[len(models)-1-i] = fromMessageModel(m)
	}
	return res, nil
}

func (r *MessageGormRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

func toMessageModel(m message.Message) messageModel {
	return messageModel{
		ID:                m.ID,
		SessionID:         m.SessionID,
		ExternalMessageID: m.ExternalMessageID,
		ChatID:            m.ChatID,
		FromAddress:       m.FromAddress,
		ToAddress:         m.ToAddress,
		Content:           m.Content,
		MediaURL:          m.MediaURL,
		MessageType:       string(m.MessageType),
		Direction:         string(m.Direction),
		IsRead:            m.IsRead,
		AckLevel:          int(m.AckLevel),
		Timestamp:         m.Timestamp.UTC(),
		CreatedAt:         m.CreatedAt,
	}
}

func fromMessageModel(m messageModel) message.Message {
	return message.Message{
		ID:                m.ID,
		SessionID:         m.SessionID,
		ExternalMessageID: m.ExternalMessageID,
		ChatID:            m.ChatID,
		FromAddress:       m.FromAddress,
		ToAddress:         m.ToAddress,
		Content:           m.Content,
		MediaURL:          m.MediaURL,
		MessageType:       message.Type(m.MessageType),
		Direction:         message.Direction(m.Direction),
		IsRead:            m.IsRead,
		AckLevel:          message.AckLevel(m.AckLevel),
		Timestamp:         m.Timestamp,
		CreatedAt:         m.CreatedAt,
	}
}
