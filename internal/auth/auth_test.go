package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	p, err := NewProvider(config.Config{Auth: config.Auth{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		Issuer:     "printshop",
		Staff:      map[string]string{"staff@printshop.test": hash},
	}}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := VerifyPassword("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("s3cret", "$2a$10$bcrypt")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestSignInIssuesVerifiableSession(t *testing.T) {
	p := newProvider(t)

	session, err := p.SignIn(context.Background(), " Staff@Printshop.test ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "staff@printshop.test", session.Email)
	assert.NotEmpty(t, session.Token)

	claims, err := p.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "staff@printshop.test", claims.Email)
}

func TestSignInFailuresAreGeneric(t *testing.T) {
	p := newProvider(t)

	_, wrongPassword := p.SignIn(context.Background(), "staff@printshop.test", "nope")
	_, unknownEmail := p.SignIn(context.Background(), "ghost@printshop.test", "correct horse")

	for _, err := range []error{wrongPassword, unknownEmail} {
		appErr := errorbank.From(err)
		require.NotNil(t, appErr)
		assert.Equal(t, errorbank.KindUnauthorized, appErr.Kind())
		assert.Equal(t, "invalid email or password", appErr.Message())
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	p := newProvider(t)
	session, err := p.SignIn(context.Background(), "staff@printshop.test", "correct horse")
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = p.Verify(session.Token)
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized))

	other := newProvider(t)
	other.secret = []byte("another-secret")
	_, err = other.Verify(session.Token)
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized))
}

func TestRequireSession(t *testing.T) {
	p := newProvider(t)
	session, err := p.SignIn(context.Background(), "staff@printshop.test", "correct horse")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/staff/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, StaffEmail(c))
	}, p.RequireSession())

	cases := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"missing", "/staff/ping", "", http.StatusUnauthorized},
		{"garbage", "/staff/ping", "Bearer nope", http.StatusUnauthorized},
		{"header", "/staff/ping", "Bearer " + session.Token, http.StatusOK},
		{"query", "/staff/ping?access_token=" + session.Token, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "staff@printshop.test", rec.Body.String())
			}
		})
	}
}
