package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/models"
	"cirsqu_api/internal/services"
)

// SessionCookie is the name of the Firebase session cookie set at login
const SessionCookie = "session"

// TokenVerifier is the part of the Firebase auth client the middleware needs
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
}

// UserResolver maps a verified identity to the local user, creating it on
// first sight.
type UserResolver interface {
	ResolveUID(ctx context.Context, uid string) (*models.User, error)
	Provision(ctx context.Context, uid, email, name string) (*models.User, error)
}

// RequireAuth accepts either a Firebase ID token in the Authorization header
// or a session cookie, and sets userID, userUID, userEmail and user on the
// context for downstream handlers.
func RequireAuth(verifier TokenVerifier, users UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
			}

			ctx := c.Request().Context()
			var (
				token *auth.Token
				err   error
			)
			if raw, ok := bearerToken(c.Request()); ok {
				token, err = verifier.VerifyIDToken(ctx, raw)
			} else if cookie, cerr := c.Cookie(SessionCookie); cerr == nil && cookie.Value != "" {
				token, err = verifier.VerifySessionCookie(ctx, cookie.Value)
				if err != nil {
					ClearSession(c)
				}
			} else {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
			}

			email, _ := token.Claims["email"].(string)
			name, _ := token.Claims["name"].(string)

			user, err := users.ResolveUID(ctx, token.UID)
			if errors.Is(err, services.ErrNotFound) {
				user, err = users.Provision(ctx, token.UID, email, name)
			}
			if err != nil {
				return err
			}

			c.Set("userID", user.ID)
			c.Set("userUID", token.UID)
			c.Set("userEmail", email)
			c.Set("user", user)

			return next(c)
		}
	}
}

// RequireAdmin must run after RequireAuth
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get("user").(*models.User)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}
			if !user.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

// ClearSession expires the session cookie
func ClearSession(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(echo.HeaderAuthorization)
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || token == header || token == "" {
		return "", false
	}
	return token, true
}
