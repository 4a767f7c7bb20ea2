package session

import "strings"

// Status is the closed set of lifecycle states of a session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusConnecting, StatusAwaitingScan, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// rawStatuses is the known vocabulary of the automation layer, lower-cased.
var rawStatuses = map[string]Status{
	"islogged":           StatusConnected,
	"inchat":             StatusConnected,
	"connected":          StatusConnected,
	"successchat":        StatusConnected,
	"chatsavailable":     StatusConnected,
	"notlogged":          StatusDisconnected,
	"desconnectedmobile": StatusDisconnected,
	"disconnectedmobile": StatusDisconnected,
	"deletetoken":        StatusDisconnected,
	"logout":             StatusDisconnected,
	"loggedout":          StatusDisconnected,
	"browserclose":       StatusError,
	"qrreaderror":        StatusError,
	"qrreadfail":         StatusError,
	"serverclose":        StatusError,
	"autoclosecalled":    StatusError,
	"error":              StatusError,
	"qrreadsuccess":      StatusConnecting,
	"pairing":            StatusConnecting,
	"connecting":         StatusConnecting,
}

// MapRawStatus maps any string emitted by a client handle onto the internal
// state machine. Unrecognised values are transient and map to Connecting.
func MapRawStatus(raw string) Status {
	if st, ok := rawStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st
	}
	return StatusConnecting
}
