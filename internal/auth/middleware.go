package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware guards the local API with bearer tokens signed by secret and
// stores user_id in locals. An empty secret leaves the API open. Browser
// sockets cannot set headers, so access_token in the query is accepted too.
func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("access_token"))
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		userID, err := UserIDFromToken(token, secret)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
