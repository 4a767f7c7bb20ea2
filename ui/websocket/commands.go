package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/session/domain/event"
)

// Observer → server message types.
const (
	MsgPing          = "ping"
	CmdSessionCreate = "session.create"
	CmdSessionStatus = "session.status"
	CmdSessionClose  = "session.close"
	CmdMessageSend   = "message.send"
	CmdMessagesList  = "messages.list"
	CmdContactsSync  = "contacts.sync"
	CmdChatsSync     = "chats.sync"
)

const (
	commandTimeout     = 90 * time.Second
	maxInboundFrameLen = 1 << 20
)

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CommandResultData struct {
	RequestID string        `json:"requestId,omitempty"`
	Command   string        `json:"command"`
	OK        bool          `json:"ok"`
	Data      any           `json:"data,omitempty"`
	Error     *CommandError `json:"error,omitempty"`
}

// Commands runs observer commands against the session usecase on behalf of
// the connected user.
type Commands struct {
	service domainSession.ISessionUsecase
}

func NewCommands(service domainSession.ISessionUsecase) *Commands {
	return &Commands{service: service}
}

// Execute always answers with a command.result event.
func (c *Commands) Execute(ctx context.Context, userID string, msg inboundMessage) event.Event {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	data, err := c.dispatch(ctx, userID, msg)
	result := CommandResultData{RequestID: msg.RequestID, Command: msg.Type, OK: err == nil, Data: data}
	if err != nil {
		result.Data = nil
		result.Error = commandError(err)
	}
	return event.New(event.TypeCommandResult, result)
}

func (c *Commands) dispatch(ctx context.Context, userID string, msg inboundMessage) (any, error) {
	switch msg.Type {
	case CmdSessionCreate:
		var req domainSession.CreateSessionRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		req.UserID = userID
		return c.service.CreateSession(ctx, req)

	case CmdSessionStatus:
		req, err := sessionRequest(msg.Data, userID)
		if err != nil {
			return nil, err
		}
		return c.service.GetSessionStatus(ctx, req)

	case CmdSessionClose:
		req, err := sessionRequest(msg.Data, userID)
		if err != nil {
			return nil, err
		}
		return nil, c.service.CloseSession(ctx, req)

	case CmdMessageSend:
		var req domainSession.SendTextRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		req.UserID = userID
		return c.service.SendMessage(ctx, req)

	case CmdMessagesList:
		var req domainSession.MessagesRequest
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		req.UserID = userID
		return c.service.GetMessages(ctx, req)

	case CmdContactsSync:
		req, err := sessionRequest(msg.Data, userID)
		if err != nil {
			return nil, err
		}
		return c.service.SyncContacts(ctx, req)

	case CmdChatsSync:
		req, err := sessionRequest(msg.Data, userID)
		if err != nil {
			return nil, err
		}
		return c.service.SyncChats(ctx, req)
	}
	return nil, pkgError.ValidationError(fmt.Sprintf("unknown command %q", msg.Type))
}

func sessionRequest(raw json.RawMessage, userID string) (domainSession.SessionRequest, error) {
	var req domainSession.SessionRequest
	if err := decode(raw, &req); err != nil {
		return req, err
	}
	req.UserID = userID
	return req, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return pkgError.ValidationError(fmt.Sprintf("invalid command data: %v", err))
	}
	return nil
}

func commandError(err error) *CommandError {
	var generic pkgError.GenericError
	if errors.As(err, &generic) {
		return &CommandError{Code: generic.ErrCode(), Message: generic.Error()}
	}
	return &CommandError{Code: "INTERNAL_SERVER_ERROR", Message: err.Error()}
}
