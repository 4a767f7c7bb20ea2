package middleware

import (
	"strings"

	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const (
	HeaderUserID = "X-User-ID"
	LocalUserID  = "user_id"
)

// RequireUser reads the CRM user from the X-User-ID header (or the user_id
// query parameter) into Locals. Authentication happens upstream.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			userID = strings.TrimSpace(c.Query("user_id"))
		}
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
				Status:  fiber.StatusUnauthorized,
				Code:    "UNAUTHORIZED",
				Message: "missing " + HeaderUserID + " header",
			})
		}
		c.Locals(LocalUserID, userID)
		return c.Next()
	}
}

// UserID returns the user stored by RequireUser.
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(LocalUserID).(string)
	return userID
}
