package services

import (
	"context"
	"fmt"

	"cirsqu_api/internal/models"
)

type GormCallbackHistory struct {
	store *Store
}

func NewCallbackHistory(store *Store) *GormCallbackHistory {
	return &GormCallbackHistory{store: store}
}

func (h *GormCallbackHistory) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	if entry.PaymentGateway == "" {
		entry.PaymentGateway = models.PaymentGatewayMidtrans
	}
	if err := h.store.conn(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("record callback history: %w", err)
	}
	return nil
}
