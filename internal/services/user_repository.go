package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"cirsqu_api/internal/models"
)

// GormUserRepository stores users and their subscription ledger entry
type GormUserRepository struct {
	store *Store
}

func NewUserRepository(store *Store) *GormUserRepository {
	return &GormUserRepository{store: store}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.store.conn(ctx).First(&user, id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return &user, nil
}

func (r *GormUserRepository) FindByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	if err := r.store.conn(ctx).Where("firebase_uid = ?", uid).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", uid, err)
	}
	return &user, nil
}

func (r *GormUserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.store.conn(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpsertByFirebaseUID provisions the local user on first login and keeps
// name and email in sync afterwards.
func (r *GormUserRepository) UpsertByFirebaseUID(ctx context.Context, uid, email, name string) (*models.User, error) {
	user := models.User{
		FirebaseUID: uid,
		Email:       email,
		Name:        name,
		UserType:    models.UserTypeMember,
	}
	err := r.store.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "firebase_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return r.FindByFirebaseUID(ctx, uid)
}

func (r *GormUserRepository) lockUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := r.store.forUpdate(ctx).First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return &user, nil
}

func (r *GormUserRepository) setExpiry(ctx context.Context, userID uint, expiry time.Time) error {
	return r.store.conn(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("pro_expired_at", expiry).Error
}

// ExtendProExpiry adds months to the running subscription, or starts a new
// one at now when the user is not pro.
func (r *GormUserRepository) ExtendProExpiry(ctx context.Context, userID uint, months int, now time.Time) (time.Time, error) {
	user, err := r.lockUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if user.IsPro(now) {
		base = *user.ProExpiredAt
	}
	expiry := AddMonths(base, months)

	if err := r.setExpiry(ctx, userID, expiry); err != nil {
		return time.Time{}, fmt.Errorf("extend pro expiry: %w", err)
	}
	return expiry, nil
}

// ReverseProExpiry subtracts months granted by an earlier settlement.
func (r *GormUserRepository) ReverseProExpiry(ctx context.Context, userID uint, months int) (time.Time, error) {
	user, err := r.lockUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if user.ProExpiredAt == nil {
		return time.Time{}, fmt.Errorf("%w: user %d has no subscription to reverse", ErrIntegrity, userID)
	}

	expiry := AddMonths(*user.ProExpiredAt, -months)
	if err := r.setExpiry(ctx, userID, expiry); err != nil {
		return time.Time{}, fmt.Errorf("reverse pro expiry: %w", err)
	}
	return expiry, nil
}
