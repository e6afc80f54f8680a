package auth

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/printshop/internal/auth"
	"github.com/Additional-Code/printshop/internal/dto"
	"github.com/Additional-Code/printshop/internal/presentation/http/response"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// Module wires the sign-in endpoint.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)

// Handler exposes staff sign-in.
type Handler struct {
	provider *auth.Provider
}

// NewHandler constructs an auth Handler.
func NewHandler(provider *auth.Provider) *Handler {
	return &Handler{provider: provider}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/auth/sign-in", h.signIn)
}

func (h *Handler) signIn(c echo.Context) error {
	b := response.New(c)

	var payload dto.SignInRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Email == "" || payload.Password == "" {
		return b.WithError(errorbank.Validation("email and password are required")).Build()
	}

	session, err := h.provider.SignIn(c.Request().Context(), payload.Email, payload.Password)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(session).Build()
}
