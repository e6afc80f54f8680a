package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/printshop/internal/presentation/http/response"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

const staffKey = "auth.staff"

// RequireSession rejects requests without a valid staff session. The token is
// read from "Authorization: Bearer <token>" or, for WebSocket upgrades that
// cannot set headers, the access_token query parameter.
func (p *Provider) RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				token = c.QueryParam("access_token")
			}
			if token == "" {
				return response.New(c).WithError(errorbank.Unauthorized("sign in required")).Build()
			}
			claims, err := p.Verify(token)
			if err != nil {
				return response.New(c).WithError(err).Build()
			}
			c.Set(staffKey, claims.Email)
			return next(c)
		}
	}
}

// StaffEmail returns the signed-in staff email set by RequireSession.
func StaffEmail(c echo.Context) string {
	email, _ := c.Get(staffKey).(string)
	return email
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
