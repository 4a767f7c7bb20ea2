package message

import "context"

type IMessageRepository interface {
	Init(ctx context.Context) error
	// Create inserts the message unless (SessionID, ExternalMessageID) exists,
	// in which case it returns pkg/error.ErrDuplicateIgnored.
	Create(ctx context.Context, m *Message) error
	GetByExternalID(ctx context.Context, sessionID, externalID string) (Message, error)
	// ApplyAck raises the ack level and, when markRead is set, the read flag.
	// It returns false when no message matched.
	ApplyAck(ctx context.Context, sessionID, externalID string, level AckLevel, markRead bool) (bool, error)
	List(ctx context.Context, q Query) ([]Message, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}

type IChatContactRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, address string) (ChatContact, error)
	Upsert(ctx context.Context, c *ChatContact) error
}
