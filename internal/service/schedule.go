package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/recurrence"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

// ScheduleInput — шаблон смен в том виде, в каком его присылает клиент.
type ScheduleInput struct {
	StaffID        uuid.UUID
	BranchID       uuid.UUID
	TimeZone       string
	StartTime      string
	EndTime        string
	Frequency      model.RecurrenceFrequency
	Interval       int
	Weekdays       []string
	AnchorDate     string
	Until          string
	Count          int
	ExceptionDates []string
}

type ScheduleDeps struct {
	Tx        repository.Transactor
	Schedules repository.ScheduleRepository
	Shifts    repository.ShiftEventRepository
	Expander  *recurrence.Expander
	Audit     AuditRecorder
	Log       zerolog.Logger
	Now       func() time.Time
}

// ScheduleService хранит шаблоны смен и материализует их в смены.
type ScheduleService struct {
	tx        repository.Transactor
	schedules repository.ScheduleRepository
	shifts    repository.ShiftEventRepository
	expander  *recurrence.Expander
	audit     AuditRecorder
	log       zerolog.Logger
	now       func() time.Time
}

func NewScheduleService(d ScheduleDeps) *ScheduleService {
	if d.Expander == nil {
		d.Expander = recurrence.NewExpander(recurrence.DefaultHorizonDays)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &ScheduleService{
		tx:        d.Tx,
		schedules: d.Schedules,
		shifts:    d.Shifts,
		expander:  d.Expander,
		audit:     d.Audit,
		log:       d.Log.With().Str("component", "schedule").Logger(),
		now:       d.Now,
	}
}

// CreateSchedule проверяет шаблон пробной развёрткой и сохраняет его.
func (s *ScheduleService) CreateSchedule(ctx context.Context, actor identity.Actor, in ScheduleInput) (_ *model.ShiftSchedule, err error) {
	ctx, span := tracer.Start(ctx, "schedule.create")
	defer func() { endSpan(span, err) }()

	sched := &model.ShiftSchedule{
		StaffID:    in.StaffID,
		BranchID:   in.BranchID,
		TimeZone:   in.TimeZone,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Frequency:  in.Frequency,
		Interval:   in.Interval,
		AnchorDate: in.AnchorDate,
	}
	// без интервала: каждый день или каждую неделю
	if sched.Interval == 0 {
		sched.Interval = 1
	}
	if in.Until != "" {
		sched.UntilDate = &in.Until
	}
	if in.Count > 0 {
		sched.Count = &in.Count
	}
	weekdays, err := normalizeWeekdays(in.Weekdays)
	if err != nil {
		return nil, err
	}
	if err := sched.SetWeekdays(weekdays); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "weekdays")
	}
	if err := sched.SetExceptionDates(in.ExceptionDates); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "exception dates")
	}

	tpl, err := recurrence.FromSchedule(sched)
	if err != nil {
		return nil, err
	}
	if _, err := s.expander.Expand(tpl); err != nil {
		return nil, err
	}

	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, apperr.Internal(err, "create schedule")
	}
	s.record(ctx, sched.ID, model.EntityShiftSchedule, model.ActionCreated, actor)
	return sched, nil
}

// GenerateShifts перегенерирует смены шаблона: старые удаляются, новые
// вставляются в той же транзакции.
func (s *ScheduleService) GenerateShifts(ctx context.Context, actor identity.Actor, scheduleID uuid.UUID, includeBase bool) (_ []model.ShiftEvent, err error) {
	ctx, span := tracer.Start(ctx, "schedule.generate")
	span.SetAttributes(attribute.String("schedule_id", scheduleID.String()))
	defer func() { endSpan(span, err) }()

	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFoundOrInternal(err, "load schedule")
	}
	if !sched.IsActive() {
		return nil, apperr.InvalidSchedule("schedule %s is deactivated", scheduleID)
	}

	tpl, err := recurrence.FromSchedule(sched)
	if err != nil {
		return nil, err
	}
	tpl.IncludeBaseMarker = includeBase

	events, err := s.expander.Expand(tpl)
	if err != nil {
		return nil, err
	}

	var removed int64
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if removed, err = s.shifts.DeleteBySchedule(ctx, scheduleID); err != nil {
			return err
		}
		return s.shifts.CreateBatch(ctx, events)
	})
	if err != nil {
		return nil, apperr.Internal(err, "store generated shifts")
	}

	s.log.Info().
		Str("schedule_id", scheduleID.String()).
		Int("generated", len(events)).
		Int64("replaced", removed).
		Msg("shifts generated")
	s.record(ctx, scheduleID, model.EntityShiftSchedule, model.ActionGenerated, actor)
	return events, nil
}

// RemoveSchedule удаляет смены шаблона и деактивирует сам шаблон.
func (s *ScheduleService) RemoveSchedule(ctx context.Context, actor identity.Actor, scheduleID uuid.UUID) (_ int64, err error) {
	ctx, span := tracer.Start(ctx, "schedule.remove")
	defer func() { endSpan(span, err) }()

	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return 0, notFoundOrInternal(err, "load schedule")
	}

	var removed int64
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if removed, err = s.shifts.DeleteBySchedule(ctx, scheduleID); err != nil {
			return err
		}
		return s.schedules.Deactivate(ctx, scheduleID, s.now())
	})
	if err != nil {
		return 0, apperr.Internal(err, "remove schedule")
	}

	s.record(ctx, scheduleID, model.EntityShiftSchedule, model.ActionRemoved, actor)
	return removed, nil
}

func (s *ScheduleService) DeactivateShift(ctx context.Context, actor identity.Actor, shiftID uuid.UUID) error {
	now := s.now().UTC()
	if err := s.shifts.SetDeactivatedAt(ctx, shiftID, &now); err != nil {
		return notFoundOrInternal(err, "deactivate shift")
	}
	s.record(ctx, shiftID, model.EntityShiftEvent, model.ActionDeactivated, actor)
	return nil
}

func (s *ScheduleService) ReactivateShift(ctx context.Context, actor identity.Actor, shiftID uuid.UUID) error {
	if err := s.shifts.SetDeactivatedAt(ctx, shiftID, nil); err != nil {
		return notFoundOrInternal(err, "reactivate shift")
	}
	s.record(ctx, shiftID, model.EntityShiftEvent, model.ActionReactivated, actor)
	return nil
}

// ListShifts возвращает смены сотрудника в интервале.
func (s *ScheduleService) ListShifts(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]model.ShiftEvent, error) {
	if !to.After(from) {
		return nil, apperr.Validation("end must be after start")
	}
	shifts, err := s.shifts.ListByStaffRange(ctx, staffID, from, to)
	if err != nil {
		return nil, apperr.Internal(err, "list shifts")
	}
	return shifts, nil
}

func (s *ScheduleService) record(ctx context.Context, id uuid.UUID, et model.EntityType, action model.AuditAction, actor identity.Actor) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, id, et, action, actor.ID, s.now().UTC())
}

// normalizeWeekdays хранит дни недели кодами "MO".."SU".
func normalizeWeekdays(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		wd, ok := recurrence.ParseWeekday(raw)
		if !ok {
			return nil, apperr.InvalidSchedule("unknown weekday %q", raw)
		}
		out = append(out, recurrence.WeekdayCode(wd))
	}
	return out, nil
}

func notFoundOrInternal(err error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, "%s", op)
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err), "%s", op)
}
