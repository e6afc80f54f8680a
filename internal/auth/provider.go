// Package auth signs staff in and verifies their session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// Module provides the auth Provider.
var Module = fx.Provide(NewProvider)

// Session is an authenticated staff session.
type Session struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims are carried by session tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider authenticates staff against configured credentials.
type Provider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	staff  map[string]string
	logger *zap.Logger
	now    func() time.Time

	// dummy is verified when the email is unknown so both paths cost the same.
	dummy string
}

// NewProvider builds a Provider from cfg.Auth.
func NewProvider(cfg config.Config, logger *zap.Logger) (*Provider, error) {
	dummy, err := HashPassword("printshop-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	if len(cfg.Auth.Staff) == 0 {
		logger.Warn("no staff accounts configured; staff sign-in will always fail")
	}
	return &Provider{
		secret: []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.Issuer,
		ttl:    cfg.Auth.SessionTTL,
		staff:  cfg.Auth.Staff,
		logger: logger,
		now:    time.Now,
		dummy:  dummy,
	}, nil
}

// SignIn checks the credentials and issues a session. Every failure is the
// same generic Unauthorized error.
func (p *Provider) SignIn(_ context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, known := p.staff[email]
	if !known {
		hash = p.dummy
	}
	ok, err := VerifyPassword(password, hash)
	if err != nil {
		p.logger.Error("stored staff hash is unusable", zap.String("email", email), zap.Error(err))
	}
	if !known || !ok || err != nil {
		return Session{}, invalidCredentials()
	}

	now := p.now()
	expires := now.Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return Session{}, errorbank.Internal("failed to issue session", errorbank.WithCause(err))
	}

	p.logger.Info("staff signed in", zap.String("email", email))
	return Session{Token: signed, Email: email, ExpiresAt: expires}, nil
}

// Verify parses a session token and returns its claims.
func (p *Provider) Verify(token string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, errorbank.Unauthorized("session is invalid or expired", errorbank.WithCause(err))
	}
	return claims, nil
}

func invalidCredentials() error {
	return errorbank.Unauthorized("invalid email or password")
}
