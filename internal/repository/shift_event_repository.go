package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type ShiftEventRepository interface {
	// Подтверждённая активная смена, целиком содержащая интервал.
	// Из нескольких кандидатов берётся самая ранняя (starts_at, затем id).
	FindContaining(ctx context.Context, staffID uuid.UUID, start, end time.Time) (*model.ShiftEvent, error)
	// Массовая вставка сгенерированных смен.
	CreateBatch(ctx context.Context, events []model.ShiftEvent) error
	// Удалить все смены расписания, вернуть число удалённых.
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.ShiftEvent, error)
	// Мягкая деактивация (at != nil) или возврат смены в работу (at == nil).
	SetDeactivatedAt(ctx context.Context, id uuid.UUID, at *time.Time) error
	// Смены сотрудника, пересекающие интервал.
	ListByStaffRange(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]model.ShiftEvent, error)
}

type GormShiftEventRepository struct {
	db *gorm.DB
}

func NewGormShiftEventRepository(db *gorm.DB) *GormShiftEventRepository {
	return &GormShiftEventRepository{db: db}
}

func (r *GormShiftEventRepository) FindContaining(
	ctx context.Context,
	staffID uuid.UUID,
	start, end time.Time,
) (*model.ShiftEvent, error) {
	var shift model.ShiftEvent
	err := conn(ctx, r.db).
		Where("staff_id = ?", staffID).
		Where("status = ?", model.ShiftStatusConfirmed).
		Where("kind = ?", model.EventKindShift).
		Where("is_base_template = ?", false).
		Where("deactivated_at IS NULL").
		Where("starts_at <= ? AND ends_at >= ?", start.UTC(), end.UTC()).
		Order("starts_at ASC").
		Order("id ASC").
		First(&shift).Error
	if err != nil {
		return nil, notFound(err, "shift event")
	}
	return &shift, nil
}

func (r *GormShiftEventRepository) CreateBatch(ctx context.Context, events []model.ShiftEvent) error {
	if len(events) == 0 {
		return nil
	}
	return conn(ctx, r.db).CreateInBatches(events, 200).Error
}

func (r *GormShiftEventRepository) DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) (int64, error) {
	res := conn(ctx, r.db).Where("schedule_id = ?", scheduleID).Delete(&model.ShiftEvent{})
	return res.RowsAffected, res.Error
}

func (r *GormShiftEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ShiftEvent, error) {
	var shift model.ShiftEvent
	if err := conn(ctx, r.db).First(&shift, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "shift event")
	}
	return &shift, nil
}

func (r *GormShiftEventRepository) SetDeactivatedAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	res := conn(ctx, r.db).
		Model(&model.ShiftEvent{}).
		Where("id = ?", id).
		Update("deactivated_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "shift event")
	}
	return nil
}

func (r *GormShiftEventRepository) ListByStaffRange(
	ctx context.Context,
	staffID uuid.UUID,
	from, to time.Time,
) ([]model.ShiftEvent, error) {
	var shifts []model.ShiftEvent
	err := conn(ctx, r.db).
		Where("staff_id = ?", staffID).
		Where("starts_at < ? AND ends_at > ?", to.UTC(), from.UTC()).
		Order("starts_at ASC").
		Find(&shifts).Error
	if err != nil {
		return nil, err
	}
	return shifts, nil
}
