package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
	"github.com/Leganyst/clinic-scheduling/internal/timeslot"
)

// AppointmentDuration — фиксированная длительность записи.
const AppointmentDuration = 15 * time.Minute

// maxLineage ограничивает обход цепочки переносов.
const maxLineage = 32

const msgCancelOnlyPending = "only pending appointments may be cancelled this way"

var tracer = otel.Tracer("github.com/Leganyst/clinic-scheduling/internal/service")

// Outcome — результат операции жизненного цикла.
type Outcome struct {
	Appointment *model.Appointment
	// Событие календаря после синхронизации; nil, если её не было или она не удалась.
	Event *model.CalendarEvent
	// Changed=false для идемпотентных и пропущенных вызовов.
	Changed bool
	Message string
}

type CreateRequest struct {
	PatientID uuid.UUID
	StaffID   uuid.UUID
	ServiceID uuid.UUID
	BranchID  uuid.UUID
	Start     time.Time
	End       time.Time
}

// ConfirmContext — данные внешнего подтверждения (оплата, заказ).
type ConfirmContext struct {
	VerifiedBy string
	OrderID    *uuid.UUID
}

type RescheduleRequest struct {
	NewStart    time.Time
	Reason      string
	NewStaffID  *uuid.UUID
	NewBranchID *uuid.UUID
}

type LifecycleDeps struct {
	Tx       repository.Transactor
	Appts    repository.AppointmentRepository
	Patients repository.PatientRepository
	Matcher  *ShiftMatcher
	Detector *ConflictDetector
	Calendar CalendarSync
	Billing  Billing
	Audit    AuditRecorder
	// Часовой пояс клиники для проверки выравнивания.
	Location *time.Location
	Log      zerolog.Logger
	Now      func() time.Time
}

// Lifecycle — машина состояний записи.
type Lifecycle struct {
	tx       repository.Transactor
	appts    repository.AppointmentRepository
	patients repository.PatientRepository
	matcher  *ShiftMatcher
	detector *ConflictDetector
	calendar CalendarSync
	billing  Billing
	audit    AuditRecorder
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
}

func NewLifecycle(d LifecycleDeps) *Lifecycle {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Lifecycle{
		tx:       d.Tx,
		appts:    d.Appts,
		patients: d.Patients,
		matcher:  d.Matcher,
		detector: d.Detector,
		calendar: d.Calendar,
		billing:  d.Billing,
		audit:    d.Audit,
		loc:      d.Location,
		log:      d.Log.With().Str("component", "lifecycle").Logger(),
		now:      d.Now,
	}
}

// Create бронирует слот в статусе PENDING. Календарь не трогает.
func (l *Lifecycle) Create(ctx context.Context, actor identity.Actor, req CreateRequest) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.create", attribute.String("staff_id", req.StaffID.String()))
	defer func() { endSpan(span, err) }()

	if req.PatientID == uuid.Nil || req.StaffID == uuid.Nil || req.ServiceID == uuid.Nil {
		return nil, apperr.Validation("patient, staff and service ids are required")
	}
	if err := l.validateSlot(req.Start, req.End); err != nil {
		return nil, err
	}

	appt := &model.Appointment{
		PatientID: req.PatientID,
		StaffID:   req.StaffID,
		ServiceID: req.ServiceID,
		BranchID:  req.BranchID,
		StartsAt:  req.Start.UTC(),
		EndsAt:    req.End.UTC(),
		Status:    model.AppointmentPending,
	}

	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := l.appts.LockStaff(ctx, appt.StaffID); err != nil {
			return err
		}
		shift, err := l.checkSlot(ctx, appt.StaffID, appt.StartsAt, appt.EndsAt, nil)
		if err != nil {
			return err
		}
		if appt.BranchID == uuid.Nil {
			appt.BranchID = shift.BranchID
		}
		return l.appts.Create(ctx, appt)
	})
	if err != nil {
		return nil, l.wrap(err, "create appointment")
	}

	l.record(ctx, appt.ID, model.ActionCreated, actor)
	l.log.Info().Str("appointment_id", appt.ID.String()).Str("staff_id", appt.StaffID.String()).
		Time("starts_at", appt.StartsAt).Msg("appointment created")

	return &Outcome{Appointment: appt, Changed: true, Message: "appointment created"}, nil
}

// Confirm переводит запись в CONFIRMED. Повторное подтверждение ничего не меняет.
func (l *Lifecycle) Confirm(ctx context.Context, actor identity.Actor, id uuid.UUID, cc ConfirmContext) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.confirm", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	var (
		appt    *model.Appointment
		already bool
	)
	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if appt, err = l.appts.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if appt.Status == model.AppointmentConfirmed {
			already = true
			return nil
		}
		next, ok := appt.Status.Next(model.TransitionConfirm)
		if !ok {
			return apperr.InvalidTransition("cannot confirm appointment in status %s", appt.Status)
		}

		if err := l.appts.LockStaff(ctx, appt.StaffID); err != nil {
			return err
		}
		conflicts, err := l.detector.FindOverlapping(ctx, appt.StaffID, appt.StartsAt, appt.EndsAt, &appt.ID)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return apperr.New(apperr.KindConfirmationConflict,
				"slot was confirmed first by appointment %s", conflicts[0].ID)
		}

		now := l.now().UTC()
		appt.Status = next
		appt.ConfirmedAt = &now
		if cc.VerifiedBy != "" {
			appt.VerifiedBy = &cc.VerifiedBy
		}
		if cc.OrderID != nil {
			appt.OrderID = cc.OrderID
		}
		return l.appts.Save(ctx, appt)
	})
	if err != nil {
		return nil, l.wrap(err, "confirm appointment")
	}

	out := &Outcome{Appointment: appt, Changed: !already, Message: "appointment confirmed"}
	if already {
		out.Message = "appointment already confirmed"
		// событие уже есть, повторно не синхронизируем
		if appt.CalendarEventID != nil {
			return out, nil
		}
	}

	out.Event = l.syncCalendar(ctx, appt)
	if !already {
		l.record(ctx, appt.ID, model.ActionConfirmed, actor)
	}
	return out, nil
}

// Cancel отменяет только PENDING; для прочих статусов ничего не делает.
func (l *Lifecycle) Cancel(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.cancel", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	var (
		appt    *model.Appointment
		skipped bool
	)
	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if appt, err = l.appts.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := appt.Status.Next(model.TransitionCancel)
		if !ok {
			skipped = true
			return nil
		}

		now := l.now().UTC()
		appt.Status = next
		appt.CancellationReason = &reason
		appt.CancelledAt = &now
		return l.appts.Save(ctx, appt)
	})
	if err != nil {
		return nil, l.wrap(err, "cancel appointment")
	}
	if skipped {
		return &Outcome{Appointment: appt, Message: msgCancelOnlyPending}, nil
	}

	out := &Outcome{Appointment: appt, Changed: true, Message: "appointment cancelled"}
	l.settleOrders(ctx, appt, false)
	if appt.CalendarEventID != nil {
		out.Event = l.syncCalendar(ctx, appt)
	}
	l.record(ctx, appt.ID, model.ActionCancelled, actor)
	return out, nil
}

// Refund отменяет подтверждённую запись с возвратом оплаты. Сбой возврата
// в биллинге отмену не откатывает.
func (l *Lifecycle) Refund(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.refund", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	var appt *model.Appointment
	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if appt, err = l.appts.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := appt.Status.Next(model.TransitionRefund)
		if !ok {
			return apperr.InvalidTransition("cannot refund appointment in status %s", appt.Status)
		}

		now := l.now().UTC()
		tagged := model.RefundReasonPrefix + reason
		appt.Status = next
		appt.CancellationReason = &tagged
		appt.CancelledAt = &now
		appt.RefundedAt = &now
		return l.appts.Save(ctx, appt)
	})
	if err != nil {
		return nil, l.wrap(err, "refund appointment")
	}

	out := &Outcome{Appointment: appt, Changed: true, Message: "appointment refunded"}
	out.Event = l.syncCalendar(ctx, appt)
	l.settleOrders(ctx, appt, true)
	l.record(ctx, appt.ID, model.ActionRefunded, actor)
	return out, nil
}

// MarkNoShow: пациент не пришёл. Событие календаря остаётся подтверждённым.
func (l *Lifecycle) MarkNoShow(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.no_show", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	var appt *model.Appointment
	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if appt, err = l.appts.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := appt.Status.Next(model.TransitionNoShow)
		if !ok {
			return apperr.InvalidTransition("cannot mark no-show for appointment in status %s", appt.Status)
		}
		appt.Status = next
		appt.NoShowReason = &reason
		return l.appts.Save(ctx, appt)
	})
	if err != nil {
		return nil, l.wrap(err, "mark no-show")
	}

	l.record(ctx, appt.ID, model.ActionNoShow, actor)
	return &Outcome{Appointment: appt, Changed: true, Message: "appointment marked as no-show"}, nil
}

// Reschedule переносит запись: исходная становится RESCHEDULED, создаётся
// преемник с тем же статусом и тем же событием календаря.
func (l *Lifecycle) Reschedule(ctx context.Context, actor identity.Actor, id uuid.UUID, req RescheduleRequest) (_ *Outcome, err error) {
	ctx, span := l.start(ctx, "lifecycle.reschedule", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	newStart := req.NewStart.UTC()
	newEnd := newStart.Add(AppointmentDuration)
	if err := l.validateSlot(newStart, newEnd); err != nil {
		return nil, err
	}

	var orig, succ *model.Appointment
	err = l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if orig, err = l.appts.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := orig.Status.Next(model.TransitionReschedule)
		if !ok {
			return apperr.InvalidTransition("cannot reschedule appointment in status %s", orig.Status)
		}

		staffID := orig.StaffID
		if req.NewStaffID != nil && *req.NewStaffID != uuid.Nil {
			staffID = *req.NewStaffID
		}
		if err := l.appts.LockStaff(ctx, staffID); err != nil {
			return err
		}
		shift, err := l.checkSlot(ctx, staffID, newStart, newEnd, &orig.ID)
		if err != nil {
			return err
		}

		branchID := orig.BranchID
		switch {
		case req.NewBranchID != nil && *req.NewBranchID != uuid.Nil:
			branchID = *req.NewBranchID
		case staffID != orig.StaffID:
			branchID = shift.BranchID
		}

		succ = &model.Appointment{
			PatientID:         orig.PatientID,
			StaffID:           staffID,
			ServiceID:         orig.ServiceID,
			BranchID:          branchID,
			StartsAt:          newStart,
			EndsAt:            newEnd,
			Status:            orig.Status,
			CalendarEventID:   orig.CalendarEventID,
			RescheduledFromID: &orig.ID,
			OrderID:           orig.OrderID,
			ConfirmedAt:       orig.ConfirmedAt,
			VerifiedBy:        orig.VerifiedBy,
		}

		reason := req.Reason
		orig.Status = next
		orig.RescheduleReason = &reason
		// событие переходит к преемнику
		orig.CalendarEventID = nil
		if err := l.appts.Save(ctx, orig); err != nil {
			return err
		}
		return l.appts.Create(ctx, succ)
	})
	if err != nil {
		return nil, l.wrap(err, "reschedule appointment")
	}

	out := &Outcome{Appointment: succ, Changed: true, Message: "appointment rescheduled"}
	if succ.CalendarEventID != nil || succ.Status == model.AppointmentConfirmed {
		out.Event = l.syncCalendar(ctx, succ)
	}
	l.record(ctx, orig.ID, model.ActionRescheduled, actor)
	l.record(ctx, succ.ID, model.ActionCreated, actor)
	return out, nil
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := l.appts.GetByID(ctx, id)
	if err != nil {
		return nil, l.wrap(err, "get appointment")
	}
	return appt, nil
}

// ResolveCurrent идёт по цепочке переносов до актуальной записи.
func (l *Lifecycle) ResolveCurrent(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := 0; appt.Status == model.AppointmentRescheduled; i++ {
		if i >= maxLineage {
			return nil, apperr.Internal(nil, "reschedule chain of %s is longer than %d", id, maxLineage)
		}
		next, err := l.appts.FindSuccessor(ctx, appt.ID)
		if err != nil {
			return nil, l.wrap(err, "resolve successor")
		}
		appt = next
	}
	return appt, nil
}

// validateSlot: длительность ровно 15 минут, начало на границе четверти часа
// по часам клиники.
func (l *Lifecycle) validateSlot(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start and end are required")
	}
	if end.Sub(start) != AppointmentDuration {
		return apperr.Validation("appointment must last %d minutes, got %d",
			int(AppointmentDuration/time.Minute), timeslot.DurationMinutes(start, end))
	}
	if !timeslot.IsQuarterHourAligned(timeslot.ToLocal(start, l.loc)) {
		return apperr.Validation("start %s is not aligned to a quarter hour", timeslot.ToLocal(start, l.loc).Format("15:04:05"))
	}
	return nil
}

// checkSlot: смена содержит интервал и нет подтверждённых пересечений.
func (l *Lifecycle) checkSlot(ctx context.Context, staffID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*model.ShiftEvent, error) {
	shift, found, err := l.matcher.FindContainingShift(ctx, staffID, start, end)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.New(apperr.KindNoAvailableShift, "no shift of staff %s covers %s-%s",
			staffID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	conflicts, err := l.detector.FindOverlapping(ctx, staffID, start, end, exclude)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, apperr.New(apperr.KindSlotAlreadyConfirmed, "slot is already confirmed by appointment %s", conflicts[0].ID)
	}
	return shift, nil
}

// syncCalendar не возвращает ошибку: запись остаётся источником истины.
func (l *Lifecycle) syncCalendar(ctx context.Context, appt *model.Appointment) *model.CalendarEvent {
	if l.calendar == nil {
		return nil
	}
	event, err := l.calendar.AttachOrUpdate(ctx, appt, l.patientName(ctx, appt.PatientID))
	if err != nil {
		l.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("calendar sync failed")
		return nil
	}
	return event
}

func (l *Lifecycle) patientName(ctx context.Context, id uuid.UUID) string {
	if l.patients == nil {
		return ""
	}
	p, err := l.patients.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			l.log.Warn().Err(err).Str("patient_id", id.String()).Msg("load patient for calendar title")
		}
		return ""
	}
	return p.DisplayName
}

// settleOrders отменяет или возвращает заказы записи; ошибки только логируются.
func (l *Lifecycle) settleOrders(ctx context.Context, appt *model.Appointment, refund bool) {
	if l.billing == nil {
		return
	}

	ids := make(map[uuid.UUID]struct{})
	if appt.OrderID != nil {
		ids[*appt.OrderID] = struct{}{}
	}
	orders, err := l.billing.FindOrdersByAppointment(ctx, appt.ID)
	if err != nil {
		l.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("find orders for appointment")
	}
	for _, o := range orders {
		ids[o.ID] = struct{}{}
	}

	for orderID := range ids {
		op, call := "cancel", l.billing.CancelOrder
		if refund {
			op, call = "refund", l.billing.RefundOrder
		}
		if err := call(ctx, orderID); err != nil {
			l.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Str("order_id", orderID.String()).
				Str("op", op).
				Msg("billing call failed")
		}
	}
}

func (l *Lifecycle) record(ctx context.Context, id uuid.UUID, action model.AuditAction, actor identity.Actor) {
	if l.audit == nil {
		return
	}
	l.audit.Record(ctx, id, model.EntityAppointment, action, actor.ID, l.now().UTC())
}

// wrap переводит ошибки хранилища в apperr.
func (l *Lifecycle) wrap(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return notFoundOrInternal(err, op)
}

func (l *Lifecycle) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		// ожидаемые отказы (валидация, конфликты) ошибкой спана не считаются
		if apperr.Is(err, apperr.KindInternal) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
