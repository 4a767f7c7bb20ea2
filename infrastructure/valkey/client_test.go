package valkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_Key(t *testing.T) {
	c := NewFromInner(nil, "azcrm")

	assert.Equal(t, "azcrm", c.Key())
	assert.Equal(t, "azcrm:ws:events", c.Key("ws", "events"))
	assert.Equal(t, "azcrm:lock:session:create:u1/main", c.Key("lock", "session:create:u1/main"))

	bare := NewFromInner(nil, "")
	assert.Equal(t, "ws:events", bare.Key("ws", "events"))
}

func TestNewLocker_DefaultTTL(t *testing.T) {
	l := NewLocker(NewFromInner(nil, "x"), 0)
	assert.Positive(t, l.ttl)
}
