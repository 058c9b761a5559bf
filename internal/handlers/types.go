package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/models"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
)

// OrderManager is the order surface available to the order's owner
type OrderManager interface {
	Checkout(ctx context.Context, in services.CheckoutInput) (*models.Order, error)
	GetForUser(ctx context.Context, id, userID uint) (*models.Order, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Order, error)
	Cancel(ctx context.Context, id, userID uint) (*models.Order, error)
}

// OrderAdmin is the order surface available to admins
type OrderAdmin interface {
	Get(ctx context.Context, id uint) (*models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Order, error)
	AdminCancel(ctx context.Context, id uint) (*models.Order, error)
	Delete(ctx context.Context, id uint) error
}

type NotificationApplier interface {
	Apply(ctx context.Context, payload []byte) (*services.ApplyResult, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) (*queue.Job, error)
}

type PriceCatalog interface {
	List(ctx context.Context) ([]models.Price, error)
	GetBySlug(ctx context.Context, slug string) (*models.Price, error)
	Update(ctx context.Context, id uint, in services.PriceInput) (*models.Price, error)
}

type Accounts interface {
	Profile(ctx context.Context, userID uint) (models.Profile, error)
	Provision(ctx context.Context, uid, email, name string) (*models.User, error)
}

type TopicSubscriber interface {
	Subscribe(ctx context.Context, userID uint, token string) error
}

// Helper to safely get string from context
func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}

func getUintFromContext(c echo.Context, key string) uint {
	val := c.Get(key)
	if val == nil {
		return 0
	}
	uintVal, ok := val.(uint)
	if !ok {
		return 0
	}
	return uintVal
}

// parseID reads a positive numeric path parameter
func parseID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}
