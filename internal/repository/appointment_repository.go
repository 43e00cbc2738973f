package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/db"
	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// GetForUpdate блокирует строку до конца транзакции (postgres).
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// Save перезаписывает все поля записи.
	Save(ctx context.Context, appt *model.Appointment) error
	// SetCalendarEventID привязывает событие календаря к записи.
	SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID *uuid.UUID) error
	// Подтверждённые записи сотрудника, пересекающие [start,end).
	// lock=true блокирует найденные строки (postgres).
	FindOverlappingConfirmed(ctx context.Context, staffID uuid.UUID, start, end time.Time, exclude *uuid.UUID, lock bool) ([]model.Appointment, error)
	// Запись, ссылающаяся на событие календаря.
	FindByCalendarEventID(ctx context.Context, eventID uuid.UUID) (*model.Appointment, error)
	// LockStaff сериализует изменения записей одного сотрудника до конца
	// транзакции (advisory lock в postgres; в sqlite писатель и так один).
	LockStaff(ctx context.Context, staffID uuid.UUID) error
	// Преемник после переноса.
	FindSuccessor(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// Записи сотрудника за период с пагинацией.
	ListByStaffRange(ctx context.Context, staffID uuid.UUID, from, to time.Time, limit, offset int) ([]model.Appointment, int64, error)
}

type GormAppointmentRepository struct {
	db *gorm.DB
}

func NewGormAppointmentRepository(db *gorm.DB) *GormAppointmentRepository {
	return &GormAppointmentRepository{db: db}
}

func (r *GormAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	return conn(ctx, r.db).Create(appt).Error
}

func (r *GormAppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	if err := conn(ctx, r.db).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "appointment")
	}
	return &a, nil
}

func (r *GormAppointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	if err := forUpdate(conn(ctx, r.db)).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "appointment")
	}
	return &a, nil
}

func (r *GormAppointmentRepository) Save(ctx context.Context, appt *model.Appointment) error {
	return conn(ctx, r.db).Save(appt).Error
}

func (r *GormAppointmentRepository) SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID *uuid.UUID) error {
	return conn(ctx, r.db).
		Model(&model.Appointment{}).
		Where("id = ?", id).
		Update("calendar_event_id", eventID).
		Error
}

func (r *GormAppointmentRepository) FindOverlappingConfirmed(
	ctx context.Context,
	staffID uuid.UUID,
	start, end time.Time,
	exclude *uuid.UUID,
	lock bool,
) ([]model.Appointment, error) {
	q := conn(ctx, r.db).
		Where("staff_id = ?", staffID).
		Where("status = ?", model.AppointmentConfirmed).
		Where("starts_at < ? AND ends_at > ?", end.UTC(), start.UTC())
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	if lock {
		q = forUpdate(q)
	}

	var appts []model.Appointment
	if err := q.Order("starts_at ASC").Find(&appts).Error; err != nil {
		return nil, err
	}
	return appts, nil
}

func (r *GormAppointmentRepository) LockStaff(ctx context.Context, staffID uuid.UUID) error {
	q := conn(ctx, r.db)
	if !db.SupportsRowLocks(q) {
		return nil
	}
	return q.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", staffID.String()).Error
}

func (r *GormAppointmentRepository) FindByCalendarEventID(ctx context.Context, eventID uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	if err := conn(ctx, r.db).First(&a, "calendar_event_id = ?", eventID).Error; err != nil {
		return nil, notFound(err, "appointment")
	}
	return &a, nil
}

func (r *GormAppointmentRepository) FindSuccessor(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	err := conn(ctx, r.db).
		Where("rescheduled_from_id = ?", id).
		Order("created_at ASC").
		First(&a).Error
	if err != nil {
		return nil, notFound(err, "appointment successor")
	}
	return &a, nil
}

func (r *GormAppointmentRepository) ListByStaffRange(
	ctx context.Context,
	staffID uuid.UUID,
	from, to time.Time,
	limit, offset int,
) ([]model.Appointment, int64, error) {
	var (
		appts []model.Appointment
		total int64
	)

	q := conn(ctx, r.db).
		Model(&model.Appointment{}).
		Where("staff_id = ?", staffID).
		Where("starts_at >= ? AND starts_at < ?", from.UTC(), to.UTC())

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}

	if err := q.Order("starts_at ASC").Find(&appts).Error; err != nil {
		return nil, 0, err
	}

	return appts, total, nil
}
