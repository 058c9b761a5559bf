package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/models"
	"cirsqu_api/internal/validate"
)

// CheckoutInput is a request to buy one price tier
type CheckoutInput struct {
	UserID      uint               `validate:"required"`
	PriceID     uint               `validate:"required"`
	PaymentType models.PaymentType `validate:"required"`
}

type OrderService struct {
	orders  OrderRepository
	prices  PriceRepository
	users   UserRepository
	gateway Gateway
	locker  Locker
	log     *logrus.Logger
}

func NewOrderService(orders OrderRepository, prices PriceRepository, users UserRepository, gateway Gateway, locker Locker, log *logrus.Logger) *OrderService {
	return &OrderService{
		orders:  orders,
		prices:  prices,
		users:   users,
		gateway: gateway,
		locker:  locker,
		log:     log,
	}
}

// Checkout charges the price tier through the gateway and records a pending
// order. No order is stored when the charge fails.
func (s *OrderService) Checkout(ctx context.Context, in CheckoutInput) (*models.Order, error) {
	if !in.PaymentType.Valid() {
		return nil, ErrInvalidPaymentType
	}
	if err := validate.Check(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("checkout:user:%d", in.UserID))
	if err != nil {
		if errors.Is(err, ErrLockTaken) {
			return nil, ErrCheckoutInProgress
		}
		return nil, err
	}
	defer unlock()

	price, err := s.prices.FindByID(ctx, in.PriceID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	pending, err := s.orders.CountPending(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrPendingOrderExists
	}

	gatewayOrderID := uuid.NewString()
	logger := s.log.WithFields(logrus.Fields{
		"order_id":     gatewayOrderID,
		"user_id":      in.UserID,
		"price":        price.Slug,
		"payment_type": in.PaymentType,
	})

	raw, err := s.gateway.Charge(ctx, ChargeRequest{
		GatewayOrderID: gatewayOrderID,
		PaymentType:    in.PaymentType,
		GrossAmount:    price.Price,
		ItemID:         price.Slug,
		ItemName:       itemName(price),
		CustomerName:   user.Name,
		CustomerEmail:  user.Email,
	})
	if err != nil {
		logger.WithError(err).Warn("charge failed")
		return nil, err
	}

	order := &models.Order{
		GatewayOrderID: gatewayOrderID,
		UserID:         in.UserID,
		PriceID:        price.ID,
		Months:         price.Months,
		GrossAmount:    price.Price,
		PaymentType:    in.PaymentType,
		Status:         models.OrderStatusPending,
		Processed:      false,
		RawCharge:      raw,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// The gateway holds a charge with no local order. It expires
		// unpaid, and the reconcile task cannot see it.
		logger.WithError(err).Error("charge created but order not stored")
		return nil, transient(err)
	}

	logger.WithField("id", order.ID).Info("checkout created")
	return order, nil
}

// GetForUser returns an order owned by userID
func (s *OrderService) GetForUser(ctx context.Context, id, userID uint) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListForUser(ctx context.Context, userID uint) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

func (s *OrderService) Get(ctx context.Context, id uint) (*models.Order, error) {
	return s.orders.FindByID(ctx, id)
}

func (s *OrderService) List(ctx context.Context) ([]models.Order, error) {
	return s.orders.ListAll(ctx)
}

func (s *OrderService) ListByUser(ctx context.Context, userID uint) ([]models.Order, error) {
	return s.ListForUser(ctx, userID)
}

// Cancel asks the gateway to cancel the owner's pending order. The status
// stays pending until the gateway's cancel notification is applied.
func (s *OrderService) Cancel(ctx context.Context, id, userID uint) (*models.Order, error) {
	order, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order)
}

// AdminCancel cancels any pending order through the same gateway path.
func (s *OrderService) AdminCancel(ctx context.Context, id uint) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order)
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order) (*models.Order, error) {
	if !order.IsPending() {
		return nil, ErrOrderNotPending
	}

	raw, err := s.gateway.Cancel(ctx, order.GatewayOrderID)
	if err != nil {
		s.log.WithError(err).WithField("order_id", order.GatewayOrderID).Warn("cancel failed")
		return nil, err
	}

	if err := s.orders.UpdateRawCharge(ctx, order.ID, raw); err != nil {
		return nil, transient(err)
	}
	order.RawCharge = raw

	s.log.WithField("order_id", order.GatewayOrderID).Info("cancel requested")
	return order, nil
}

// Delete soft-deletes an order. Admin only.
func (s *OrderService) Delete(ctx context.Context, id uint) error {
	return s.orders.Delete(ctx, id)
}
