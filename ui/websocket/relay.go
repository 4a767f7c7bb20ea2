package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/sirupsen/logrus"
)

const relayChannel = "ws:events"

// PubSub is the broker side of the relay; *valkey.Client implements it.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

type envelope struct {
	Origin string      `json:"origin"`
	UserID string      `json:"user_id,omitempty"`
	All    bool        `json:"all,omitempty"`
	Event  event.Event `json:"event"`
}

// Relay mirrors hub broadcasts between nodes so an observer connected to any
// node sees the events of sessions running on another one.
type Relay struct {
	broker PubSub
	hub    *Hub
	nodeID string
}

func NewRelay(broker PubSub, hub *Hub, nodeID string) *Relay {
	return &Relay{broker: broker, hub: hub, nodeID: nodeID}
}

func (r *Relay) Publish(userID string, all bool, evt event.Event) {
	data, err := json.Marshal(envelope{Origin: r.nodeID, UserID: userID, All: all, Event: evt})
	if err != nil {
		logrus.Errorf("[WS] Relay marshal error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.broker.Publish(ctx, relayChannel, data); err != nil {
		logrus.WithError(err).Warn("[WS] Failed to publish to relay")
	}
}

// Run subscribes until ctx is done, resubscribing after broker failures.
func (r *Relay) Run(ctx context.Context) {
	logrus.Infof("[WS] Relay subscriber started (node %s)", r.nodeID)
	for {
		err := r.broker.Subscribe(ctx, relayChannel, r.handle)
		if ctx.Err() != nil {
			return
		}
		logrus.WithError(err).Warn("[WS] Relay subscriber stopped, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logrus.Debugf("[WS] Ignoring malformed relay payload: %v", err)
		return
	}
	// our own broadcasts were already delivered locally
	if env.Origin == r.nodeID {
		return
	}
	if env.All {
		r.hub.DeliverLocalAll(env.Event)
		return
	}
	if env.UserID != "" {
		r.hub.DeliverLocal(env.UserID, env.Event)
	}
}
