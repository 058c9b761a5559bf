package services

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"cirsqu_api/internal/models"
)

type GormPriceRepository struct {
	store *Store
}

func NewPriceRepository(store *Store) *GormPriceRepository {
	return &GormPriceRepository{store: store}
}

func (r *GormPriceRepository) List(ctx context.Context) ([]models.Price, error) {
	var prices []models.Price
	if err := r.store.conn(ctx).Order("months asc").Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return prices, nil
}

func (r *GormPriceRepository) FindByID(ctx context.Context, id uint) (*models.Price, error) {
	var price models.Price
	if err := r.store.conn(ctx).First(&price, id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("find price %d: %w", id, err)
	}
	return &price, nil
}

func (r *GormPriceRepository) FindBySlug(ctx context.Context, slug string) (*models.Price, error) {
	var price models.Price
	if err := r.store.conn(ctx).Where("slug = ?", slug).First(&price).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("find price %s: %w", slug, err)
	}
	return &price, nil
}

func (r *GormPriceRepository) Update(ctx context.Context, price *models.Price) error {
	res := r.store.conn(ctx).Model(price).
		Select("name", "slug", "details", "months", "price").
		Updates(price)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicatePriceSlug
		}
		return fmt.Errorf("update price %d: %w", price.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPriceNotFound
	}
	return nil
}

// Seed inserts the given tiers, skipping slugs that already exist. It
// returns the number of rows inserted.
func (r *GormPriceRepository) Seed(ctx context.Context, prices []models.Price) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	res := r.store.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoNothing: true,
	}).Create(&prices)
	if res.Error != nil {
		return 0, fmt.Errorf("seed prices: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
