// Package calendar держит события календаря в соответствии с записями.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

// maxLineage ограничивает обход цепочки переносов.
const maxLineage = 32

var tracer = otel.Tracer("github.com/Leganyst/clinic-scheduling/internal/calendar")

// ErrRescheduled: событие перенесённой записи принадлежит её преемнику.
var ErrRescheduled = errors.New("rescheduled appointment hands its calendar event to the successor")

// Appearance — как статус записи выглядит в календаре.
type Appearance struct {
	Status    model.CalendarStatus
	Color     model.CalendarColor
	Cancelled bool
}

// AppearanceOf; no-show сохраняет вид подтверждённого события.
func AppearanceOf(status model.AppointmentStatus) (Appearance, bool) {
	switch status {
	case model.AppointmentPending:
		return Appearance{Status: model.CalendarStatusPending, Color: model.ColorPending}, true
	case model.AppointmentConfirmed, model.AppointmentNoShow:
		return Appearance{Status: model.CalendarStatusConfirmed, Color: model.ColorConfirmed}, true
	case model.AppointmentCancelled:
		return Appearance{Status: model.CalendarStatusCancelled, Color: model.ColorCancelled, Cancelled: true}, true
	}
	return Appearance{}, false
}

// Title — заголовок события записи.
func Title(patientName string) string {
	patientName = strings.TrimSpace(patientName)
	if patientName == "" {
		return "Appointment"
	}
	return "Appointment: " + patientName
}

// resolver ищет уже существующее событие для записи.
type resolver struct {
	name string
	find func(ctx context.Context, appt *model.Appointment) (*model.CalendarEvent, bool, error)
}

// Synchronizer создаёт, находит и обновляет событие календаря записи.
type Synchronizer struct {
	tx        repository.Transactor
	events    repository.CalendarEventRepository
	appts     repository.AppointmentRepository
	resolvers []resolver
	log       zerolog.Logger
}

func NewSynchronizer(
	tx repository.Transactor,
	events repository.CalendarEventRepository,
	appts repository.AppointmentRepository,
	log zerolog.Logger,
) *Synchronizer {
	s := &Synchronizer{
		tx:     tx,
		events: events,
		appts:  appts,
		log:    log.With().Str("component", "calendar_sync").Logger(),
	}
	// порядок важен: первый найденный выигрывает
	s.resolvers = []resolver{
		{name: "by_id", find: s.byID},
		{name: "by_containment", find: s.byContainment},
		{name: "by_lineage", find: s.byLineage},
	}
	return s
}

// AttachOrUpdate приводит событие записи к её текущему статусу. Если события
// нет, создаёт новое и сохраняет его id в записи.
func (s *Synchronizer) AttachOrUpdate(ctx context.Context, appt *model.Appointment, patientName string) (*model.CalendarEvent, error) {
	ctx, span := tracer.Start(ctx, "calendar.attach_or_update",
		trace.WithAttributes(attribute.String("appointment_id", appt.ID.String())))
	defer span.End()

	look, ok := AppearanceOf(appt.Status)
	if !ok {
		if appt.Status == model.AppointmentRescheduled {
			return nil, ErrRescheduled
		}
		return nil, fmt.Errorf("no calendar appearance for status %q", appt.Status)
	}

	var (
		event *model.CalendarEvent
		via   = "created"
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, r := range s.resolvers {
			found, ok, err := r.find(ctx, appt)
			if err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			if !ok {
				continue
			}
			via = r.name
			if err := s.update(ctx, found.ID, appt, patientName, look); err != nil {
				return err
			}
			if err := s.link(ctx, appt, found.ID); err != nil {
				return err
			}
			event, err = s.events.GetByID(ctx, found.ID)
			return err
		}

		var err error
		event, err = s.create(ctx, appt, patientName, look)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	id := event.ID
	appt.CalendarEventID = &id

	span.SetAttributes(attribute.String("resolved_by", via))
	s.log.Debug().
		Str("appointment_id", appt.ID.String()).
		Str("event_id", event.ID.String()).
		Str("resolved_by", via).
		Str("status", string(event.Status)).
		Msg("calendar event synchronized")
	return event, nil
}

// byID: событие, на которое уже ссылается запись.
func (s *Synchronizer) byID(ctx context.Context, appt *model.Appointment) (*model.CalendarEvent, bool, error) {
	if appt.CalendarEventID == nil {
		return nil, false, nil
	}
	event, err := s.events.GetByID(ctx, *appt.CalendarEventID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn().
			Str("appointment_id", appt.ID.String()).
			Str("event_id", appt.CalendarEventID.String()).
			Msg("linked calendar event is missing")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// byContainment: свободное событие записи того же сотрудника, покрывающее интервал.
func (s *Synchronizer) byContainment(ctx context.Context, appt *model.Appointment) (*model.CalendarEvent, bool, error) {
	event, err := s.events.FindFreeContaining(ctx, appt.StaffID, appt.StartsAt, appt.EndsAt, appt.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// byLineage: событие одной из предыдущих записей цепочки переносов.
func (s *Synchronizer) byLineage(ctx context.Context, appt *model.Appointment) (*model.CalendarEvent, bool, error) {
	visited := map[uuid.UUID]struct{}{appt.ID: {}}
	ancestors := make(map[uuid.UUID]struct{})

	next := appt.RescheduledFromID
	for depth := 0; next != nil && depth < maxLineage; depth++ {
		if _, seen := visited[*next]; seen {
			break
		}
		visited[*next] = struct{}{}

		ancestor, err := s.appts.GetByID(ctx, *next)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		ancestors[ancestor.ID] = struct{}{}

		event, ok, err := s.ancestorEvent(ctx, ancestor)
		if err != nil {
			return nil, false, err
		}
		if ok {
			owned, err := s.adoptable(ctx, event.ID, appt.ID, ancestors)
			if err != nil {
				return nil, false, err
			}
			if owned {
				return event, true, nil
			}
		}
		next = ancestor.RescheduledFromID
	}
	return nil, false, nil
}

func (s *Synchronizer) ancestorEvent(ctx context.Context, ancestor *model.Appointment) (*model.CalendarEvent, bool, error) {
	if ancestor.CalendarEventID != nil {
		event, err := s.events.GetByID(ctx, *ancestor.CalendarEventID)
		if err == nil {
			return event, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
	}
	event, err := s.events.FindByOrigin(ctx, ancestor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// adoptable: событие свободно или принадлежит предку из цепочки.
func (s *Synchronizer) adoptable(ctx context.Context, eventID, self uuid.UUID, ancestors map[uuid.UUID]struct{}) (bool, error) {
	owner, err := s.appts.FindByCalendarEventID(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if owner.ID == self {
		return true, nil
	}
	_, ok := ancestors[owner.ID]
	return ok, nil
}

// update пишет итоговые значения одним проходом.
func (s *Synchronizer) update(ctx context.Context, id uuid.UUID, appt *model.Appointment, patientName string, look Appearance) error {
	fields := map[string]any{
		"status":              look.Status,
		"color":               look.Color,
		"is_cancelled":        look.Cancelled,
		"cancellation_reason": nil,
		"starts_at":           appt.StartsAt.UTC(),
		"ends_at":             appt.EndsAt.UTC(),
		"staff_id":            appt.StaffID,
		"branch_id":           appt.BranchID,
	}
	if look.Cancelled {
		fields["cancellation_reason"] = appt.CancellationReason
	}
	if strings.TrimSpace(patientName) != "" {
		fields["title"] = Title(patientName)
	}
	return s.events.Updates(ctx, id, fields)
}

// link переносит ссылку на событие к записи, снимая её с предка.
func (s *Synchronizer) link(ctx context.Context, appt *model.Appointment, eventID uuid.UUID) error {
	if appt.CalendarEventID != nil && *appt.CalendarEventID == eventID {
		return nil
	}
	owner, err := s.appts.FindByCalendarEventID(ctx, eventID)
	switch {
	case err == nil && owner.ID != appt.ID:
		if err := s.appts.SetCalendarEventID(ctx, owner.ID, nil); err != nil {
			return fmt.Errorf("release event from %s: %w", owner.ID, err)
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return err
	}

	if err := s.appts.SetCalendarEventID(ctx, appt.ID, &eventID); err != nil {
		return fmt.Errorf("link event: %w", err)
	}
	return nil
}

func (s *Synchronizer) create(ctx context.Context, appt *model.Appointment, patientName string, look Appearance) (*model.CalendarEvent, error) {
	origin := appt.ID
	event := &model.CalendarEvent{
		Title:               Title(patientName),
		Kind:                model.EventKindAppointment,
		Status:              look.Status,
		Color:               look.Color,
		StaffID:             appt.StaffID,
		BranchID:            appt.BranchID,
		StartsAt:            appt.StartsAt,
		EndsAt:              appt.EndsAt,
		IsCancelled:         look.Cancelled,
		OriginAppointmentID: &origin,
	}
	if look.Cancelled {
		event.CancellationReason = appt.CancellationReason
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if err := s.link(ctx, appt, event.ID); err != nil {
		return nil, err
	}
	return event, nil
}
