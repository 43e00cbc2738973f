package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

// ShiftMatcher ищет смену, целиком содержащую запрошенный интервал.
type ShiftMatcher struct {
	shifts repository.ShiftEventRepository
}

func NewShiftMatcher(shifts repository.ShiftEventRepository) *ShiftMatcher {
	return &ShiftMatcher{shifts: shifts}
}

// FindContainingShift возвращает found=false, если подходящей смены нет.
// При нескольких кандидатах выбирается смена с самым ранним началом,
// при равенстве с меньшим id.
func (m *ShiftMatcher) FindContainingShift(
	ctx context.Context,
	staffID uuid.UUID,
	start, end time.Time,
) (*model.ShiftEvent, bool, error) {
	shift, err := m.shifts.FindContaining(ctx, staffID, start, end)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find containing shift: %w", err)
	}
	return shift, true, nil
}

// ConflictDetector ищет подтверждённые записи, пересекающие интервал.
// Записи в PENDING конфликтом не считаются.
type ConflictDetector struct {
	appts repository.AppointmentRepository
}

func NewConflictDetector(appts repository.AppointmentRepository) *ConflictDetector {
	return &ConflictDetector{appts: appts}
}

// FindOverlapping: полуоткрытое пересечение [start,end); exclude убирает
// одну запись из выборки. Внутри транзакции найденные строки блокируются.
func (d *ConflictDetector) FindOverlapping(
	ctx context.Context,
	staffID uuid.UUID,
	start, end time.Time,
	exclude *uuid.UUID,
) ([]model.Appointment, error) {
	appts, err := d.appts.FindOverlappingConfirmed(ctx, staffID, start, end, exclude, repository.InTransaction(ctx))
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return appts, nil
}
