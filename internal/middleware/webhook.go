package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// WebhookSecretHeader carries the shared secret configured at the gateway.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookAuthMiddleware rejects gateway callbacks without the shared secret.
// An empty secret disables the endpoint.
func WebhookAuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return fiber.NewError(fiber.StatusNotFound, "webhook disabled")
		}

		provided := c.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook secret")
		}
		return c.Next()
	}
}
