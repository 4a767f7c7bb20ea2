package application

import (
	"context"

	"github.com/AzielCF/az-crm/pkg/msgworker"
	"github.com/sirupsen/logrus"
)

// Job kinds submitted by client handle callbacks.
const (
	JobQRCode  = "qr_code"
	JobStatus  = "status_change"
	JobInbound = "inbound_message"
	JobAck     = "ack"
)

// EventQueue turns client callbacks into ordered jobs. Jobs of one session
// run one at a time in arrival order; sessions never wait on each other.
type EventQueue struct {
	ctx  context.Context
	pool *msgworker.Pool
}

func NewEventQueue(ctx context.Context, pool *msgworker.Pool) *EventQueue {
	return &EventQueue{ctx: ctx, pool: pool}
}

// Enqueue blocks while the session's worker queue is full so no callback is
// lost under bursts. It only gives up when the queue is shutting down.
func (q *EventQueue) Enqueue(sessionID, kind string, fn func(ctx context.Context) error) {
	err := q.pool.Submit(q.ctx, msgworker.Job{
		SessionID: sessionID,
		Kind:      kind,
		Handler:   fn,
	})
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).
			Warnf("[SESSION] Dropping %s callback", kind)
	}
}
