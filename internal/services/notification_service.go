package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/models"
)

// EventOrderNotification is the realtime event name for applied notifications
const EventOrderNotification = "order-notification"

const maxGuardedUpdateAttempts = 3

// Notification is the subset of the gateway's webhook body the applier reads
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
}

// ParseNotification decodes a webhook body. A body without an order id is
// malformed; an empty transaction status is accepted here and handled by
// the applier.
func ParseNotification(payload []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if n.OrderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrMalformedNotification)
	}
	return &n, nil
}

// DecideTransition picks the ledger effect of an incoming status given the
// order's current status and processed flag.
func DecideTransition(status string, processed bool, incoming string) (models.Transition, error) {
	switch {
	case incoming == models.OrderStatusSettlement && !processed:
		return models.TransitionSettlementApply, nil
	case incoming == models.OrderStatusDeny && processed && status == models.OrderStatusSettlement:
		return models.TransitionSettlementReversal, nil
	case incoming == models.OrderStatusDeny && processed:
		// The grant is applied but the order no longer reads settlement,
		// so it is unclear what a reversal would undo.
		return "", fmt.Errorf("%w: deny on processed order with status %q", ErrIntegrity, status)
	default:
		return models.TransitionPassThrough, nil
	}
}

// Notifier pushes events to a user's realtime channel. Delivery is best
// effort and never reported back.
type Notifier interface {
	PushToUser(userID uint, event string, payload interface{})
}

// ApplyResult describes what an applied notification changed
type ApplyResult struct {
	Order        *models.Order
	Transition   models.Transition
	ProExpiredAt *time.Time
}

type NotificationService struct {
	tx       Transactor
	orders   OrderRepository
	ledger   Ledger
	history  CallbackHistory
	notifier Notifier
	clock    clock.Clock
	log      *logrus.Logger
}

func NewNotificationService(tx Transactor, orders OrderRepository, ledger Ledger, history CallbackHistory, notifier Notifier, clk clock.Clock, log *logrus.Logger) *NotificationService {
	return &NotificationService{
		tx:       tx,
		orders:   orders,
		ledger:   ledger,
		history:  history,
		notifier: notifier,
		clock:    clk,
		log:      log,
	}
}

// Apply resolves a webhook body to its order and applies the status
// transition. Order and ledger change together or not at all; the realtime
// push happens after commit.
//
// Returned errors are terminal (ErrNotFound, ErrValidation, ErrIntegrity)
// or retryable (ErrTransientStore).
func (s *NotificationService) Apply(ctx context.Context, payload []byte) (*ApplyResult, error) {
	n, err := ParseNotification(payload)
	if err != nil {
		s.log.WithError(err).Warn("dropping malformed notification")
		return nil, err
	}

	logger := s.log.WithFields(logrus.Fields{
		"order_id":           n.OrderID,
		"transaction_status": n.TransactionStatus,
	})

	var result *ApplyResult
	for attempt := 1; ; attempt++ {
		result, err = s.applyOnce(ctx, n, payload)
		if errors.Is(err, ErrConcurrentUpdate) && attempt < maxGuardedUpdateAttempts {
			logger.WithField("attempt", attempt).Debug("order changed underneath, retrying")
			continue
		}
		break
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			logger.Warn("notification for unknown order")
		case errors.Is(err, ErrIntegrity):
			logger.WithError(err).Error("order state inconsistent, notification not applied")
			s.recordBestEffort(ctx, &models.PaymentCallbackHistory{
				GatewayOrderID:    n.OrderID,
				TransactionStatus: n.TransactionStatus,
				Transition:        models.TransitionIntegrityError,
				Metadata:          payload,
			})
		case errors.Is(err, ErrValidation):
			logger.WithError(err).Warn("notification rejected")
		default:
			logger.WithError(err).Error("applying notification failed")
			err = transient(err)
		}
		return nil, err
	}

	logger = logger.WithField("transition", result.Transition)
	if result.Transition == models.TransitionMalformed {
		// The order is pushed unchanged so the client can refresh.
		logger.Warn("notification without transaction status")
	} else {
		logger.Info("notification applied")
	}

	s.notifier.PushToUser(result.Order.UserID, EventOrderNotification, result.Order.Event())
	return result, nil
}

func (s *NotificationService) applyOnce(ctx context.Context, n *Notification, payload []byte) (*ApplyResult, error) {
	var result *ApplyResult

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByGatewayOrderID(ctx, n.OrderID)
		if err != nil {
			return err
		}

		if n.TransactionStatus == "" {
			result = &ApplyResult{Order: order, Transition: models.TransitionMalformed}
			return s.history.Record(ctx, historyEntry(order, n, models.TransitionMalformed, payload))
		}

		transition, err := DecideTransition(order.Status, order.Processed, n.TransactionStatus)
		if err != nil {
			return err
		}

		prior := order.Processed
		var expiry *time.Time

		switch transition {
		case models.TransitionSettlementApply:
			e, err := s.ledger.ExtendProExpiry(ctx, order.UserID, order.Months, s.clock.Now())
			if err != nil {
				return err
			}
			expiry = &e
			order.Processed = true
		case models.TransitionSettlementReversal:
			e, err := s.ledger.ReverseProExpiry(ctx, order.UserID, order.Months)
			if err != nil {
				return err
			}
			expiry = &e
			order.Processed = false
		}

		order.Status = n.TransactionStatus
		order.RawNotification = json.RawMessage(payload)

		if err := s.orders.UpdateWithPriorProcessedGuard(ctx, order, prior); err != nil {
			return err
		}
		if err := s.history.Record(ctx, historyEntry(order, n, transition, payload)); err != nil {
			return err
		}

		result = &ApplyResult{Order: order, Transition: transition, ProExpiredAt: expiry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *NotificationService) recordBestEffort(ctx context.Context, entry *models.PaymentCallbackHistory) {
	if err := s.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.log.WithError(err).Warn("recording callback history failed")
	}
}

func historyEntry(order *models.Order, n *Notification, transition models.Transition, payload []byte) *models.PaymentCallbackHistory {
	return &models.PaymentCallbackHistory{
		PaymentGateway:    models.PaymentGatewayMidtrans,
		OrderID:           order.ID,
		GatewayOrderID:    n.OrderID,
		TransactionStatus: n.TransactionStatus,
		Transition:        transition,
		Metadata:          json.RawMessage(payload),
	}
}
