package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// secretHeader carries the shared secret on internal job invocations.
const secretHeader = "X-Cron-Secret"

// cronSecretMiddleware protects the internal job endpoints. An empty
// configured secret fails closed: every request is refused until the
// deployment sets one.
func cronSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return fail(c, http.StatusServiceUnavailable, "Cron secret is not configured", nil)
			}
			provided := c.Request().Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return fail(c, http.StatusUnauthorized, "Invalid cron secret", nil)
			}
			return next(c)
		}
	}
}
