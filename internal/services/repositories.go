package services

import (
	"context"
	"encoding/json"
	"time"

	"cirsqu_api/internal/models"
)

// Transactor runs fn atomically. Repository calls made with the context
// passed to fn take part in the same transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository is the durable order store
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	// FindByGatewayOrderID locks the row when called inside a transaction.
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	CountPending(ctx context.Context, userID uint) (int64, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	// UpdateWithPriorProcessedGuard persists status, processed and the raw
	// notification only if processed still equals priorProcessed.
	UpdateWithPriorProcessedGuard(ctx context.Context, order *models.Order, priorProcessed bool) error
	UpdateRawCharge(ctx context.Context, id uint, raw json.RawMessage) error
	Delete(ctx context.Context, id uint) error
}

// Ledger holds each user's subscription expiry. Both mutations are deltas
// in months so a reversal undoes a grant.
type Ledger interface {
	ExtendProExpiry(ctx context.Context, userID uint, months int, now time.Time) (time.Time, error)
	ReverseProExpiry(ctx context.Context, userID uint, months int) (time.Time, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByFirebaseUID(ctx context.Context, uid string) (*models.User, error)
	UpsertByFirebaseUID(ctx context.Context, uid, email, name string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

type PriceRepository interface {
	List(ctx context.Context) ([]models.Price, error)
	FindByID(ctx context.Context, id uint) (*models.Price, error)
	FindBySlug(ctx context.Context, slug string) (*models.Price, error)
	Update(ctx context.Context, price *models.Price) error
	Seed(ctx context.Context, prices []models.Price) (int, error)
}

// CallbackHistory is the append-only notification audit
type CallbackHistory interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
}
