package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type ScheduleRepository interface {
	Create(ctx context.Context, schedule *model.ShiftSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ShiftSchedule, error)
	// ListByStaff возвращает активные шаблоны сотрудника.
	ListByStaff(ctx context.Context, staffID uuid.UUID) ([]model.ShiftSchedule, error)
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error
}

type GormScheduleRepository struct {
	db *gorm.DB
}

func NewGormScheduleRepository(db *gorm.DB) *GormScheduleRepository {
	return &GormScheduleRepository{db: db}
}

func (r *GormScheduleRepository) Create(ctx context.Context, schedule *model.ShiftSchedule) error {
	return conn(ctx, r.db).Create(schedule).Error
}

func (r *GormScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ShiftSchedule, error) {
	var s model.ShiftSchedule
	if err := conn(ctx, r.db).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "shift schedule")
	}
	return &s, nil
}

func (r *GormScheduleRepository) ListByStaff(ctx context.Context, staffID uuid.UUID) ([]model.ShiftSchedule, error) {
	var schedules []model.ShiftSchedule
	err := conn(ctx, r.db).
		Where("staff_id = ?", staffID).
		Where("deactivated_at IS NULL").
		Order("created_at DESC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *GormScheduleRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	return conn(ctx, r.db).
		Model(&model.ShiftSchedule{}).
		Where("id = ?", id).
		Update("deactivated_at", at.UTC()).
		Error
}
