package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/middleware"
)

// SessionIssuer is the part of the Firebase auth client used at login
type SessionIssuer interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authClient    SessionIssuer
	accounts      Accounts
	sessionTTL    time.Duration
	secureCookies bool
	log           *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authClient SessionIssuer, accounts Accounts, sessionTTL time.Duration, secureCookies bool, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		authClient:    authClient,
		accounts:      accounts,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
		log:           log,
	}
}

// HandleLogin verifies the Firebase ID token, provisions the local user and
// creates a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
	}

	// Get ID Token from Authorization Header
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}

	ctx := c.Request().Context()
	token, err := h.authClient.VerifyIDToken(ctx, tokenString)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)
	user, err := h.accounts.Provision(ctx, token.UID, email, name)
	if err != nil {
		return err
	}

	cookieValue, err := h.authClient.SessionCookie(ctx, tokenString, h.sessionTTL)
	if err != nil {
		h.log.WithError(err).Error("create session cookie")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    cookieValue,
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "success",
		"user_id": user.ID,
	})
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	middleware.ClearSession(c)
	return c.JSON(http.StatusOK, map[string]string{
		"status": "logged out",
	})
}
