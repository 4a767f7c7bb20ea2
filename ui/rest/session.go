package rest

import (
	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
)

type Session struct {
	Service domainSession.ISessionUsecase
}

func InitRestSession(app fiber.Router, service domainSession.ISessionUsecase) Session {
	rest := Session{Service: service}

	app.Post("/sessions", rest.CreateSession)
	app.Get("/sessions", rest.ListSessions)
	app.Get("/sessions/status", rest.SessionStatus)
	app.Post("/sessions/close", rest.CloseSession)
	app.Delete("/sessions", rest.DeleteSession)

	app.Post("/messages/text", rest.SendText)
	app.Post("/messages/media", rest.SendMedia)
	app.Get("/messages", rest.Messages)

	app.Get("/contacts/sync", rest.SyncContacts)
	app.Get("/chats/sync", rest.SyncChats)

	return rest
}

func (handler *Session) CreateSession(c *fiber.Ctx) error {
	var request domainSession.CreateSessionRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(bodyError(err))
	request.UserID = middleware.UserID(c)

	s, err := handler.Service.CreateSession(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session created",
		Results: s,
	})
}

func (handler *Session) ListSessions(c *fiber.Ctx) error {
	sessions, err := handler.Service.ListSessions(c.UserContext(), middleware.UserID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success get sessions",
		Results: sessions,
	})
}

func (handler *Session) SessionStatus(c *fiber.Ctx) error {
	request := domainSession.SessionRequest{
		UserID: middleware.UserID(c),
		Label:  c.Query("label"),
	}
	status, err := handler.Service.GetSessionStatus(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session status retrieved",
		Results: status,
	})
}

func (handler *Session) CloseSession(c *fiber.Ctx) error {
	var request domainSession.SessionRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(bodyError(err))
	request.UserID = middleware.UserID(c)

	err = handler.Service.CloseSession(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session closed",
	})
}

func (handler *Session) DeleteSession(c *fiber.Ctx) error {
	request := domainSession.SessionRequest{
		UserID: middleware.UserID(c),
		Label:  c.Query("label"),
	}
	err := handler.Service.DeleteSession(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session deleted",
	})
}

func (handler *Session) SendText(c *fiber.Ctx) error {
	var request domainSession.SendTextRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(bodyError(err))
	request.UserID = middleware.UserID(c)

	response, err := handler.Service.SendMessage(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: response,
	})
}

// SendMedia accepts a multipart upload (field "file") or a JSON/form body with
// media_url.
func (handler *Session) SendMedia(c *fiber.Ctx) error {
	var request domainSession.SendMediaRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(bodyError(err))
	request.UserID = middleware.UserID(c)

	if file, err := c.FormFile("file"); err == nil {
		request.File = file
	}

	response, err := handler.Service.SendMedia(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Media sent",
		Results: response,
	})
}

func (handler *Session) Messages(c *fiber.Ctx) error {
	var request domainSession.MessagesRequest
	err := c.QueryParser(&request)
	utils.PanicIfNeeded(bodyError(err))
	request.UserID = middleware.UserID(c)

	messages, err := handler.Service.GetMessages(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success get messages",
		Results: messages,
	})
}

func (handler *Session) SyncContacts(c *fiber.Ctx) error {
	request := domainSession.SessionRequest{
		UserID: middleware.UserID(c),
		Label:  c.Query("label"),
	}
	contacts, err := handler.Service.SyncContacts(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success sync contacts",
		Results: contacts,
	})
}

func (handler *Session) SyncChats(c *fiber.Ctx) error {
	request := domainSession.SessionRequest{
		UserID: middleware.UserID(c),
		Label:  c.Query("label"),
	}
	chats, err := handler.Service.SyncChats(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success sync chats",
		Results: chats,
	})
}

// bodyError turns a parser failure into a 400.
func bodyError(err error) error {
	if err == nil {
		return nil
	}
	return pkgError.ValidationError("invalid request body: " + err.Error())
}
