package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/models"
)

// UserDirectory is the read-only user surface available to admins
type UserDirectory interface {
	List(ctx context.Context) ([]models.Profile, error)
	Profile(ctx context.Context, userID uint) (models.Profile, error)
}

// UserHandler serves user lookups for admins. Subscription state is shown
// but never edited here; only settled payments move it.
type UserHandler struct {
	users UserDirectory
}

func NewUserHandler(users UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

// ListUsers returns every user with their current subscription state
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.users.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	profile, err := h.users.Profile(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}
