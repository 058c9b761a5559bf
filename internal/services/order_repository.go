package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cirsqu_api/internal/models"
)

type GormOrderRepository struct {
	store *Store
}

func NewOrderRepository(store *Store) *GormOrderRepository {
	return &GormOrderRepository{store: store}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.store.conn(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateGatewayID
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.store.conn(ctx).First(&order, id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order %d: %w", id, err)
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.store.forUpdate(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&order).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order %s: %w", gatewayOrderID, err)
	}
	return &order, nil
}

func (r *GormOrderRepository) CountPending(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.store.conn(ctx).Model(&models.Order{}).
		Where("user_id = ? AND status = ?", userID, models.OrderStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return count, nil
}

func (r *GormOrderRepository) ListByUser(ctx context.Context, userID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.store.conn(ctx).Preload("Price").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *GormOrderRepository) ListAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.store.conn(ctx).Preload("Price").Preload("User").
		Order("created_at desc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *GormOrderRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.store.conn(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, before).
		Order("created_at asc").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list stale pending orders: %w", err)
	}
	return orders, nil
}

func (r *GormOrderRepository) UpdateWithPriorProcessedGuard(ctx context.Context, order *models.Order, priorProcessed bool) error {
	now := time.Now()
	res := r.store.conn(ctx).Model(&models.Order{}).
		Where("id = ? AND processed = ?", order.ID, priorProcessed).
		Updates(map[string]interface{}{
			"status":           order.Status,
			"processed":        order.Processed,
			"raw_notification": order.RawNotification,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("update order %d: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	order.UpdatedAt = now
	return nil
}

func (r *GormOrderRepository) UpdateRawCharge(ctx context.Context, id uint, raw json.RawMessage) error {
	res := r.store.conn(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("raw_charge", raw)
	if res.Error != nil {
		return fmt.Errorf("update order %d charge: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, id uint) error {
	res := r.store.conn(ctx).Delete(&models.Order{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
