package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapRawStatus(t *testing.T) {
	cases := map[string]Status{
		"isLogged":        StatusConnected,
		"inChat":          StatusConnected,
		"ISLOGGED":        StatusConnected,
		" chatsAvailable": StatusConnected,
		"notLogged":       StatusDisconnected,
		"logout":          StatusDisconnected,
		"browserClose":    StatusError,
		"qrReadError":     StatusError,
		"serverClose":     StatusError,
		"qrReadSuccess":   StatusConnecting,
		"disconnected":    StatusConnecting,
		"":                StatusConnecting,
		"brandNewStatus":  StatusConnecting,
	}
	for raw, want := range cases {
		got := MapRawStatus(raw)
		assert.Equal(t, want, got, "raw %q", raw)
		assert.True(t, got.IsValid())
	}
}

func TestNewKey(t *testing.T) {
	k := NewKey(" u1 ", "")
	assert.Equal(t, Key{UserID: "u1", Label: DefaultLabel}, k)
	assert.False(t, k.IsZero())
	assert.True(t, NewKey("", "x").IsZero())

	// keys are compared as values, never parsed from their string form
	assert.NotEqual(t, NewKey("a/b", "c"), NewKey("a", "b/c"))
	assert.Equal(t, NewKey("u1", "main"), Session{UserID: "u1", Label: "main"}.Key())
}
