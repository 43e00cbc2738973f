package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
	"github.com/Leganyst/clinic-scheduling/internal/timeslot"
)

// Availability считает свободные слоты сотрудника: сетка по 15 минут внутри
// активных смен минус подтверждённые записи.
type Availability struct {
	shifts repository.ShiftEventRepository
	appts  repository.AppointmentRepository
	loc    *time.Location
}

func NewAvailability(shifts repository.ShiftEventRepository, appts repository.AppointmentRepository, loc *time.Location) *Availability {
	if loc == nil {
		loc = time.UTC
	}
	return &Availability{shifts: shifts, appts: appts, loc: loc}
}

func (a *Availability) FreeSlots(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]timeslot.TimeRange, error) {
	window, err := timeslot.NewTimeRange(from, to)
	if err != nil {
		return nil, apperr.Validation("end must be after start")
	}

	shifts, err := a.shifts.ListByStaffRange(ctx, staffID, from, to)
	if err != nil {
		return nil, apperr.Internal(err, "list shifts")
	}
	// запись длится 15 минут, поэтому захватываем начавшиеся чуть раньше окна
	appts, _, err := a.appts.ListByStaffRange(ctx, staffID, from.Add(-AppointmentDuration), to, 0, 0)
	if err != nil {
		return nil, apperr.Internal(err, "list appointments")
	}

	var busy []timeslot.TimeRange
	for _, ap := range appts {
		if ap.Status == model.AppointmentConfirmed {
			busy = append(busy, timeslot.TimeRange{Start: ap.StartsAt, End: ap.EndsAt})
		}
	}

	seen := make(map[time.Time]bool)
	var free []timeslot.TimeRange
	for _, sh := range shifts {
		if sh.Kind != model.EventKindShift || sh.IsBaseTemplate || !sh.IsActive() {
			continue
		}
		tr := timeslot.TimeRange{Start: maxTime(sh.StartsAt, window.Start), End: minTime(sh.EndsAt, window.End)}
		slots, err := timeslot.SplitToSlots(tr, AppointmentDuration, a.loc)
		if err != nil {
			return nil, apperr.Internal(err, "split shift")
		}
		for _, s := range slots {
			s = s.UTC()
			if seen[s.Start] {
				continue
			}
			if overlaps, _ := timeslot.HasOverlap(s, busy); overlaps {
				continue
			}
			seen[s.Start] = true
			free = append(free, s)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Start.Before(free[j].Start) })
	return free, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
