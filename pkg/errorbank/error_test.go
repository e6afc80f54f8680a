package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestKindMappings(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
		code   codes.Code
	}{
		{Validation("bad"), http.StatusBadRequest, codes.InvalidArgument},
		{NotFound("missing"), http.StatusNotFound, codes.NotFound},
		{Unauthorized("nope"), http.StatusUnauthorized, codes.Unauthenticated},
		{LimitExceeded("full"), http.StatusUnprocessableEntity, codes.ResourceExhausted},
		{InvalidTransition("no"), http.StatusConflict, codes.FailedPrecondition},
		{Conflict("stale"), http.StatusPreconditionFailed, codes.FailedPrecondition},
		{Transport("down"), http.StatusServiceUnavailable, codes.Unavailable},
		{Internal("boom"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind()), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode())
			assert.Equal(t, tc.code, tc.err.GRPCCode())
		})
	}
}

func TestFromAndIs(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("list orders: %w", Transport("store unavailable", WithCause(cause)))

	assert.True(t, Is(wrapped, KindTransport))
	assert.False(t, Is(wrapped, KindNotFound))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindTransport, From(wrapped).Kind())

	plain := From(cause)
	assert.Equal(t, KindInternal, plain.Kind())
	assert.Equal(t, "internal error", plain.Message())
	assert.Nil(t, From(nil))
}

func TestDetails(t *testing.T) {
	err := Conflict("version mismatch",
		WithDetail("expectedVersion", int64(3)),
		WithDetails(map[string]any{"currentVersion": int64(4)}),
	)
	assert.Equal(t, map[string]any{"expectedVersion": int64(3), "currentVersion": int64(4)}, err.Details())

	v := Validation("", WithField("email"))
	assert.Equal(t, "validation", v.Message())
	assert.Equal(t, "email", v.Details()["field"])
}
