package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type CalendarEventRepository interface {
	Create(ctx context.Context, event *model.CalendarEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CalendarEvent, error)
	// Событие записи того же сотрудника, содержащее интервал и не занятое
	// другой записью (owner: запись, для которой ищем).
	FindFreeContaining(ctx context.Context, staffID uuid.UUID, start, end time.Time, owner uuid.UUID) (*model.CalendarEvent, error)
	// Событие, созданное для записи originID.
	FindByOrigin(ctx context.Context, originID uuid.UUID) (*model.CalendarEvent, error)
	// Updates записывает все поля за один проход.
	Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error
	// События сотрудника, пересекающие интервал, с пагинацией.
	ListByStaffRange(ctx context.Context, staffID uuid.UUID, from, to time.Time, limit, offset int) ([]model.CalendarEvent, int64, error)
}

type GormCalendarEventRepository struct {
	db *gorm.DB
}

func NewGormCalendarEventRepository(db *gorm.DB) *GormCalendarEventRepository {
	return &GormCalendarEventRepository{db: db}
}

func (r *GormCalendarEventRepository) Create(ctx context.Context, event *model.CalendarEvent) error {
	return conn(ctx, r.db).Create(event).Error
}

func (r *GormCalendarEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	if err := conn(ctx, r.db).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "calendar event")
	}
	return &e, nil
}

func (r *GormCalendarEventRepository) FindFreeContaining(
	ctx context.Context,
	staffID uuid.UUID,
	start, end time.Time,
	owner uuid.UUID,
) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	err := conn(ctx, r.db).
		Where("kind = ?", model.EventKindAppointment).
		Where("staff_id = ?", staffID).
		Where("starts_at <= ? AND ends_at >= ?", start.UTC(), end.UTC()).
		Where(
			"NOT EXISTS (SELECT 1 FROM appointments a WHERE a.calendar_event_id = calendar_events.id AND a.id <> ?)",
			owner,
		).
		Order("starts_at ASC").
		Order("id ASC").
		First(&e).Error
	if err != nil {
		return nil, notFound(err, "calendar event")
	}
	return &e, nil
}

func (r *GormCalendarEventRepository) FindByOrigin(ctx context.Context, originID uuid.UUID) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	err := conn(ctx, r.db).
		Where("origin_appointment_id = ?", originID).
		Order("created_at ASC").
		First(&e).Error
	if err != nil {
		return nil, notFound(err, "calendar event")
	}
	return &e, nil
}

func (r *GormCalendarEventRepository) Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := conn(ctx, r.db).
		Model(&model.CalendarEvent{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "calendar event")
	}
	return nil
}

func (r *GormCalendarEventRepository) ListByStaffRange(
	ctx context.Context,
	staffID uuid.UUID,
	from, to time.Time,
	limit, offset int,
) ([]model.CalendarEvent, int64, error) {
	var (
		events []model.CalendarEvent
		total  int64
	)

	q := conn(ctx, r.db).
		Model(&model.CalendarEvent{}).
		Where("staff_id = ?", staffID).
		Where("starts_at < ? AND ends_at > ?", to.UTC(), from.UTC())

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}

	if err := q.Order("starts_at ASC").Find(&events).Error; err != nil {
		return nil, 0, err
	}

	return events, total, nil
}
