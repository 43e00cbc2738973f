package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

// EventView — событие календаря для клиента: записи и смены вместе.
type EventView struct {
	ID                 uuid.UUID
	Kind               model.EventKind
	Title              string
	Status             model.CalendarStatus
	Color              model.CalendarColor
	ColorHex           string
	StaffID            uuid.UUID
	BranchID           uuid.UUID
	StartsAt           time.Time
	EndsAt             time.Time
	IsCancelled        bool
	CancellationReason string
}

// Lister отдаёт календарь сотрудника за период.
type Lister struct {
	events repository.CalendarEventRepository
	shifts repository.ShiftEventRepository
}

func NewLister(events repository.CalendarEventRepository, shifts repository.ShiftEventRepository) *Lister {
	return &Lister{events: events, shifts: shifts}
}

// ListEvents возвращает страницу событий, пересекающих [from,to),
// отсортированных по началу; смены идут перед записями с тем же началом.
func (l *Lister) ListEvents(ctx context.Context, staffID uuid.UUID, from, to time.Time, page, pageSize int) (Page[EventView], error) {
	if !to.After(from) {
		return Page[EventView]{}, fmt.Errorf("end must be after start")
	}

	events, _, err := l.events.ListByStaffRange(ctx, staffID, from, to, 0, 0)
	if err != nil {
		return Page[EventView]{}, fmt.Errorf("list calendar events: %w", err)
	}
	shifts, err := l.shifts.ListByStaffRange(ctx, staffID, from, to)
	if err != nil {
		return Page[EventView]{}, fmt.Errorf("list shifts: %w", err)
	}

	views := make([]EventView, 0, len(events)+len(shifts))
	for _, s := range shifts {
		if s.Kind != model.EventKindShift || s.IsBaseTemplate || !s.IsActive() {
			continue
		}
		views = append(views, shiftView(s))
	}
	for _, e := range events {
		views = append(views, eventView(e))
	}

	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].StartsAt.Equal(views[j].StartsAt) {
			return views[i].StartsAt.Before(views[j].StartsAt)
		}
		return views[i].Kind == model.EventKindShift && views[j].Kind != model.EventKindShift
	})

	return Paginate(views, page, pageSize), nil
}

func eventView(e model.CalendarEvent) EventView {
	v := EventView{
		ID:          e.ID,
		Kind:        e.Kind,
		Title:       e.Title,
		Status:      e.Status,
		Color:       e.Color,
		ColorHex:    e.Color.Hex(),
		StaffID:     e.StaffID,
		BranchID:    e.BranchID,
		StartsAt:    e.StartsAt.UTC(),
		EndsAt:      e.EndsAt.UTC(),
		IsCancelled: e.IsCancelled,
	}
	if e.CancellationReason != nil {
		v.CancellationReason = *e.CancellationReason
	}
	return v
}

func shiftView(s model.ShiftEvent) EventView {
	return EventView{
		ID:       s.ID,
		Kind:     model.EventKindShift,
		Title:    "Shift",
		Status:   model.CalendarStatusConfirmed,
		Color:    model.ColorShift,
		ColorHex: model.ColorShift.Hex(),
		StaffID:  s.StaffID,
		BranchID: s.BranchID,
		StartsAt: s.StartsAt.UTC(),
		EndsAt:   s.EndsAt.UTC(),
	}
}
