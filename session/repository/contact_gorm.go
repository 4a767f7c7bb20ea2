package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AzielCF/az-crm/session/domain/message"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type chatContactModel struct {
	Address         string    `gorm:"primaryKey;column:address"`
	DisplayName     string    `gorm:"column:display_name"`
	ProfilePicURL   string    `gorm:"column:profile_pic_url"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at;index"`
	LinkedContactID string    `gorm:"column:linked_contact_id;index"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (chatContactModel) TableName() string { return "crm_chat_contacts" }

type ChatContactGormRepository struct {
	db *gorm.DB
}

func NewChatContactGormRepository(db *gorm.DB) *ChatContactGormRepository {
	return &ChatContactGormRepository{db: db}
}

func (r *ChatContactGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&chatContactModel{})
}

func (r *ChatContactGormRepository) Get(ctx context.Context, address string) (message.ChatContact, error) {
	var m chatContactModel
	if err := r.db.WithContext(ctx).First(&m, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.ChatContact{}, message.ErrContactNotFound
		}
		return message.ChatContact{}, err
	}
	return message.ChatContact{
		Address:         m.Address,
		DisplayName:     m.DisplayName,
		ProfilePicURL:   m.ProfilePicURL,
		LastSeenAt:      m.LastSeenAt,
		LinkedContactID: m.LinkedContactID,
	}, nil
}

// Upsert writes the whole record. Empty picture or link values never erase a
// stored one, and last_seen_at only moves forward.
func (r *ChatContactGormRepository) Upsert(ctx context.Context, c *message.ChatContact) error {
	model := chatContactModel{
		Address:         c.Address,
		DisplayName:     c.DisplayName,
		ProfilePicURL:   c.ProfilePicURL,
		LastSeenAt:      c.LastSeenAt.UTC(),
		LinkedContactID: c.LinkedContactID,
		UpdatedAt:       time.Now().UTC(),
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "display_name"}, Value: model.DisplayName},
			{Column: clause.Column{Name: "profile_pic_url"}, Value: gorm.Expr("CASE WHEN ? = '' THEN profile_pic_url ELSE ? END", model.ProfilePicURL, model.ProfilePicURL)},
			{Column: clause.Column{Name: "linked_contact_id"}, Value: gorm.Expr("CASE WHEN ? = '' THEN linked_contact_id ELSE ? END", model.LinkedContactID, model.LinkedContactID)},
			{Column: clause.Column{Name: "last_seen_at"}, Value: gorm.Expr("CASE WHEN last_seen_at < ? THEN ? ELSE last_seen_at END", model.LastSeenAt, model.LastSeenAt)},
			{Column: clause.Column{Name: "updated_at"}, Value: model.UpdatedAt},
		},
	}).Create(&model).Error
}
