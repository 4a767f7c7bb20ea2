package error

import (
	"errors"
	"fmt"
	"net/http"
)

// Outcomes that are reported as errors internally but mean "nothing to do".
// Callers compare with errors.Is and translate them into success.
var (
	ErrDuplicateIgnored = errors.New("duplicate message ignored")
	ErrUnknownAckTarget = errors.New("ack target not found")
)

// SessionNotFoundError means there is no live client handle for the addressed
// user/session. The user is expected to reconnect.
type SessionNotFoundError string

func (err SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", string(err))
}

func (err SessionNotFoundError) ErrCode() string {
	return "SESSION_NOT_FOUND"
}

func (err SessionNotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// SessionNotConnectedError means the operation requires a Connected session.
type SessionNotConnectedError string

func (err SessionNotConnectedError) Error() string {
	return fmt.Sprintf("session not connected: %s", string(err))
}

func (err SessionNotConnectedError) ErrCode() string {
	return "SESSION_NOT_CONNECTED"
}

func (err SessionNotConnectedError) StatusCode() int {
	return http.StatusConflict
}

// AutomationError wraps a failure raised by the external chat client during
// create, send or close.
type AutomationError struct {
	Op  string
	Err error
}

func NewAutomationError(op string, err error) *AutomationError {
	return &AutomationError{Op: op, Err: err}
}

func (err *AutomationError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("automation failure during %s", err.Op)
	}
	return fmt.Sprintf("automation failure during %s: %v", err.Op, err.Err)
}

func (err *AutomationError) Unwrap() error {
	return err.Err
}

func (err *AutomationError) ErrCode() string {
	return "AUTOMATION_FAILURE"
}

func (err *AutomationError) StatusCode() int {
	return http.StatusBadGateway
}

// PersistenceError wraps a store failure. Safe to retry the whole operation.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (err *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", err.Op, err.Err)
}

func (err *PersistenceError) Unwrap() error {
	return err.Err
}

func (err *PersistenceError) ErrCode() string {
	return "PERSISTENCE_FAILURE"
}

func (err *PersistenceError) StatusCode() int {
	return http.StatusServiceUnavailable
}
