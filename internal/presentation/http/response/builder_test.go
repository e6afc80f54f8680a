package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/printshop/pkg/errorbank"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), rec
}

func TestBuildSuccessWithRequestID(t *testing.T) {
	c, rec := newContext()
	c.Response().Header().Set(echo.HeaderXRequestID, "req-1")

	require.NoError(t, New(c).WithStatus(http.StatusCreated).WithData(map[string]int{"price": 12}).WithMeta("", 1).Build())
	assert.Equal(t, http.StatusCreated, rec.Code)

	var env struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Meta    map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, 12, env.Data["price"])
	assert.Equal(t, map[string]any{MetaRequestID: "req-1"}, env.Meta)
}

func TestBuildErrorDerivesStatus(t *testing.T) {
	c, rec := newContext()
	err := errorbank.Conflict("order changed", errorbank.WithDetail("currentVersion", 3))

	require.NoError(t, New(c).WithData("ignored").WithError(err).Build())
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, errorbank.KindConflict, env.Error.Kind)
	assert.Equal(t, "order changed", env.Error.Message)
	assert.EqualValues(t, 3, env.Error.Details["currentVersion"])
}

func TestBuildErrorKeepsExplicitStatus(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, New(c).WithStatus(http.StatusMethodNotAllowed).WithError(errors.New("x")).Build())
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBuildNoContent(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, New(c).WithStatus(http.StatusNoContent).Build())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
