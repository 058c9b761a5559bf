package tasks

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"cirsqu_api/internal/models"
)

// TaskStore persists scheduled tasks and their run history
type TaskStore interface {
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduledTask, error)
	FindActiveByName(ctx context.Context, name string) (*models.ScheduledTask, error)
	Create(ctx context.Context, task *models.ScheduledTask) error
	UpdateRun(ctx context.Context, id uint, status models.ScheduledTaskStatus, due, lastRun time.Time) error
	RecordHistory(ctx context.Context, history *models.ScheduledTaskHistory) error
}

var ErrTaskNotFound = errors.New("scheduled task not found")

type GormTaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// ListDue returns active tasks whose due time has passed, oldest first
func (s *GormTaskStore) ListDue(ctx context.Context, now time.Time) ([]models.ScheduledTask, error) {
	var due []models.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due asc").
		Find(&due).Error
	return due, err
}

func (s *GormTaskStore) FindActiveByName(ctx context.Context, name string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("task_name = ? AND status = ?", name, models.ScheduledTaskStatusActive).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *GormTaskStore) Create(ctx context.Context, task *models.ScheduledTask) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *GormTaskStore) UpdateRun(ctx context.Context, id uint, status models.ScheduledTaskStatus, due, lastRun time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.ScheduledTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   status,
			"due":      due,
			"last_run": lastRun,
		}).Error
}

func (s *GormTaskStore) RecordHistory(ctx context.Context, history *models.ScheduledTaskHistory) error {
	return s.db.WithContext(ctx).Create(history).Error
}
