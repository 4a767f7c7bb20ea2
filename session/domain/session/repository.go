package session

import (
	"context"
	"time"
)

type ISessionRepository interface {
	Init(ctx context.Context) error
	GetByKey(ctx context.Context, key Key) (Session, error)
	GetByID(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s *Session) error
	UpdateStatus(ctx context.Context, id string, status Status, phoneNumber string) error
	UpdateQRCode(ctx context.Context, id string, qrCode string) error
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string, status Status) error
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	ListIdleSince(ctx context.Context, before time.Time) ([]Session, error)
}
