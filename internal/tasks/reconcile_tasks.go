package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/models"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
)

type PendingOrders interface {
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type StatusChecker interface {
	Status(ctx context.Context, gatewayOrderID string) (json.RawMessage, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) (*queue.Job, error)
}

// ReconcileArgs are the arguments of the reconcile task
type ReconcileArgs struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit"`
}

// ReconcilePendingOrdersTaskDef asks the gateway for the status of orders
// that stayed pending longer than expected and feeds each answer into the
// notification queue, where it is applied like any webhook.
type ReconcilePendingOrdersTaskDef struct {
	orders  PendingOrders
	gateway StatusChecker
	queue   Enqueuer
	clock   clock.Clock
	log     *logrus.Logger
}

func (t *ReconcilePendingOrdersTaskDef) TaskID() string {
	return "reconcile_pending_orders"
}

// CreateTask builds the recurring ScheduledTask record for this task
func (t *ReconcilePendingOrdersTaskDef) CreateTask(args ReconcileArgs, rule string, due time.Time) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 3)
}

func (t *ReconcilePendingOrdersTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	olderThan := time.Duration(intArg(task.Arguments, "older_than_minutes", 30)) * time.Minute
	limit := intArg(task.Arguments, "limit", 100)

	orders, err := t.orders.ListPendingBefore(ctx, t.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}

	var enqueued, unknown, failed int
	for _, order := range orders {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger := t.log.WithField("order_id", order.GatewayOrderID)

		raw, err := t.gateway.Status(ctx, order.GatewayOrderID)
		if err != nil {
			var gwErr *services.GatewayError
			if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
				logger.Warn("pending order unknown to the gateway")
				unknown++
				continue
			}
			logger.WithError(err).Warn("gateway status check failed")
			failed++
			continue
		}

		if _, err := t.queue.Enqueue(ctx, raw); err != nil {
			logger.WithError(err).Error("enqueue reconciled status")
			failed++
			continue
		}
		enqueued++
	}

	result := map[string]interface{}{
		"status":   "success",
		"checked":  len(orders),
		"enqueued": enqueued,
		"unknown":  unknown,
		"failed":   failed,
	}
	if failed > 0 && enqueued == 0 {
		return result, fmt.Errorf("reconcile: all %d status checks failed", failed)
	}
	return result, nil
}
