// Package auth verifies bearer tokens issued by the external identity
// provider and resolves them to a user id.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/openclaw/cortex/server/internal/errors"
	"github.com/openclaw/cortex/server/internal/observability"
)

type userIDKey struct{}

// DemoUserID is the identity assigned when no token secret is configured.
// Only dev and demo modes run without a secret.
const DemoUserID = "demo-user"

// Authenticator validates HS256 bearer tokens. The subject claim is the
// user id; no local user records are kept.
type Authenticator struct {
	secret []byte
}

func New(tokenSecret string) *Authenticator {
	var secret []byte
	if tokenSecret != "" {
		secret = []byte(tokenSecret)
	}
	return &Authenticator{secret: secret}
}

// Authenticate verifies the token and returns the user id from its
// subject claim.
func (a *Authenticator) Authenticate(tokenString string) (string, error) {
	if a.secret == nil {
		return DemoUserID, nil
	}
	if tokenString == "" {
		return "", errors.Unauthorized("missing bearer token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("invalid bearer token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.Unauthorized("token has no subject")
	}
	return subject, nil
}

// Middleware authenticates every request and stores the user id on the
// request context.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := a.Authenticate(extractBearerToken(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			ctx := WithUserID(c.Request().Context(), userID)
			ctx = observability.WithUserID(ctx, userID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func extractBearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// WithUserID stores the authenticated user id on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, or empty.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
