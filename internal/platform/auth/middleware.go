// Package auth resolves the acting portal user for every request. Session
// issuance and account management live in the identity provider; this
// package only validates bearer tokens and exposes the user id to handlers.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const userIDKey = "user_id"

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey verifies HS256 tokens minted by the identity provider.
	SigningKey []byte
}

// JWTMiddleware validates the Authorization bearer token and stores the
// subject user id on the echo context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			uid, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
			}

			c.Set(userIDKey, uid)
			return next(c)
		}
	}
}

// DevAuthMiddleware grants every request a fixed development user. It must
// never be wired in production; config.Validate refuses that combination.
func DevAuthMiddleware() echo.MiddlewareFunc {
	devUser := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hdr := c.Request().Header.Get("X-Debug-User"); hdr != "" {
				if uid, err := uuid.Parse(hdr); err == nil {
					c.Set(userIDKey, uid)
					return next(c)
				}
			}
			c.Set(userIDKey, devUser)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id for the request, or uuid.Nil.
func UserID(c echo.Context) uuid.UUID {
	uid, _ := c.Get(userIDKey).(uuid.UUID)
	return uid
}
