package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/models"
	"cirsqu_api/internal/validate"
)

const priceListCacheKey = "prices:all"

// PriceInput is an admin edit of a tier. Open orders keep the months and
// amount they were charged with.
type PriceInput struct {
	Name    string   `json:"name" validate:"required,min=3,max=255"`
	Slug    string   `json:"slug" validate:"required,min=3,max=255"`
	Details []string `json:"details" validate:"required,min=1,dive,min=3,max=255"`
	Months  int      `json:"months" validate:"required,min=1,max=120"`
	Price   int64    `json:"price" validate:"required,min=1000"`
}

type PriceService struct {
	prices PriceRepository
	cache  *RedisCache
	ttl    time.Duration
	log    *logrus.Logger
}

// NewPriceService builds the catalog service. cache may be nil.
func NewPriceService(prices PriceRepository, cache *RedisCache, ttl time.Duration, log *logrus.Logger) *PriceService {
	return &PriceService{prices: prices, cache: cache, ttl: ttl, log: log}
}

// List returns every tier, served from cache when possible
func (s *PriceService) List(ctx context.Context) ([]models.Price, error) {
	if s.cache == nil {
		return s.prices.List(ctx)
	}
	return GetOrSet(s.cache, ctx, priceListCacheKey, s.ttl, func() ([]models.Price, error) {
		return s.prices.List(ctx)
	})
}

func (s *PriceService) GetBySlug(ctx context.Context, slug string) (*models.Price, error) {
	return s.prices.FindBySlug(ctx, slug)
}

func (s *PriceService) Update(ctx context.Context, id uint, in PriceInput) (*models.Price, error) {
	if err := validate.Check(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	price, err := s.prices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	price.Name = in.Name
	price.Slug = in.Slug
	price.Details = in.Details
	price.Months = in.Months
	price.Price = in.Price

	if err := s.prices.Update(ctx, price); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	s.log.WithFields(logrus.Fields{"price_id": id, "slug": price.Slug}).Info("price updated")
	return price, nil
}

// Seed inserts the default tiers that are missing
func (s *PriceService) Seed(ctx context.Context) error {
	n, err := s.prices.Seed(ctx, models.DefaultPrices())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("seeded price tiers")
		s.invalidate(ctx)
	}
	return nil
}

func (s *PriceService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, priceListCacheKey); err != nil {
		s.log.WithError(err).Warn("price cache invalidation failed")
	}
}
