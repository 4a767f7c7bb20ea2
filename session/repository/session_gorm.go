package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AzielCF/az-crm/session/domain/session"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type sessionModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	UserID         string    `gorm:"column:user_id;not null;uniqueIndex:idx_session_user_label"`
	Label          string    `gorm:"column:label;not null;uniqueIndex:idx_session_user_label"`
	Status         string    `gorm:"column:status;not null;default:'idle'"`
	PhoneNumber    string    `gorm:"column:phone_number"`
	QRCode         string    `gorm:"column:qr_code;type:text"`
	IsActive       bool      `gorm:"column:is_active;not null;default:false;index"`
	LastActivityAt time.Time `gorm:"column:last_activity_at;index"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (sessionModel) TableName() string { return "crm_sessions" }

// --- Repository Implementation ---

type SessionGormRepository struct {
	db *gorm.DB
}

func NewSessionGormRepository(db *gorm.DB) *SessionGormRepository {
	return &SessionGormRepository{db: db}
}

func (r *SessionGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&sessionModel{})
}

func (r *SessionGormRepository) GetByKey(ctx context.Context, key session.Key) (session.Session, error) {
	var m sessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND label = ?", key.UserID, key.Label).
		First(&m).Error
	if err != nil {
		return session.Session{}, mapSessionErr(err)
	}
	return fromSessionModel(m), nil
}

func (r *SessionGormRepository) GetByID(ctx context.Context, id string) (session.Session, error) {
	var m sessionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return session.Session{}, mapSessionErr(err)
	}
	return fromSessionModel(m), nil
}

// Save inserts or fully replaces the record identified by s.ID.
func (r *SessionGormRepository) Save(ctx context.Context, s *session.Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	model := toSessionModel(*s)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *SessionGormRepository) UpdateStatus(ctx context.Context, id string, status session.Status, phoneNumber string) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if phoneNumber != "" {
		updates["phone_number"] = phoneNumber
	}
	if status == session.StatusConnected {
		updates["qr_code"] = ""
	}
	return r.update(ctx, id, updates)
}

func (r *SessionGormRepository) UpdateQRCode(ctx context.Context, id string, qrCode string) error {
	return r.update(ctx, id, map[string]any{
		"qr_code":    qrCode,
		"status":     string(session.StatusAwaitingScan),
		"updated_at": time.Now().UTC(),
	})
}

func (r *SessionGormRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{"last_activity_at": at.UTC()})
}

func (r *SessionGormRepository) Deactivate(ctx context.Context, id string, status session.Status) error {
	return r.update(ctx, id, map[string]any{
		"status":     string(status),
		"is_active":  false,
		"qr_code":    "",
		"updated_at": time.Now().UTC(),
	})
}

func (r *SessionGormRepository) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("label ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return fromSessionModels(models), nil
}

func (r *SessionGormRepository) ListActive(ctx context.Context) ([]session.Session, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	return fromSessionModels(models), nil
}

func (r *SessionGormRepository) ListIdleSince(ctx context.Context, before time.Time) ([]session.Session, error) {
	var models []sessionModel
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND last_activity_at < ?", true, before.UTC()).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromSessionModels(models), nil
}

func (r *SessionGormRepository) update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&sessionModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func mapSessionErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.ErrSessionNotFound
	}
	return err
}

// --- Mappers ---

func toSessionModel(s session.Session) sessionModel {
	return sessionModel{
		ID:             s.ID,
		UserID:         s.UserID,
		Label:          s.Label,
		Status:         string(s.Status),
		PhoneNumber:    s.PhoneNumber,
		QRCode:         s.QRCode,
		IsActive:       s.IsActive,
		LastActivityAt: s.LastActivityAt.UTC(),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromSessionModel(m sessionModel) session.Session {
	return session.Session{
		ID:             m.ID,
		UserID:         m.UserID,
		Label:          m.Label,
		Status:         session.Status(m.Status),
		PhoneNumber:    m.PhoneNumber,
		QRCode:         m.QRCode,
		IsActive:       m.IsActive,
		LastActivityAt: m.LastActivityAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromSessionModels(models []sessionModel) []session.Session {
	res := make([]session.Session, len(models))
	for i, m := range models {
		res[i] = fromSessionModel(m)
	}
	return res
}
