package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/calendar"
	"github.com/Leganyst/clinic-scheduling/internal/db/dbtest"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

var reception = identity.Actor{ID: "reception-1", Role: identity.RoleReception}

type fakeBilling struct {
	mu        sync.Mutex
	refundErr error
	refunded  []uuid.UUID
	cancelled []uuid.UUID
}

func (b *fakeBilling) FindOrdersByAppointment(context.Context, uuid.UUID) ([]model.Order, error) {
	return nil, nil
}

func (b *fakeBilling) CancelOrder(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, id)
	return nil
}

func (b *fakeBilling) RefundOrder(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refunded = append(b.refunded, id)
	return b.refundErr
}

type recordedAction struct {
	id     uuid.UUID
	action model.AuditAction
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (a *fakeAudit) Record(_ context.Context, id uuid.UUID, _ model.EntityType, action model.AuditAction, _ string, _ time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, recordedAction{id: id, action: action})
}

func (a *fakeAudit) of(id uuid.UUID) []model.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AuditAction
	for _, r := range a.actions {
		if r.id == id {
			out = append(out, r.action)
		}
	}
	return out
}

type env struct {
	lc      *Lifecycle
	free    *Availability
	appts   *repository.GormAppointmentRepository
	events  *repository.GormCalendarEventRepository
	shifts  *repository.GormShiftEventRepository
	billing *fakeBilling
	audit   *fakeAudit
	staff   uuid.UUID
	branch  uuid.UUID
	patient uuid.UUID
}

var day = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.Open(t)
	tx := repository.NewGormTransactor(gdb)
	e := &env{
		appts:   repository.NewGormAppointmentRepository(gdb),
		events:  repository.NewGormCalendarEventRepository(gdb),
		shifts:  repository.NewGormShiftEventRepository(gdb),
		billing: &fakeBilling{},
		audit:   &fakeAudit{},
		staff:   uuid.New(),
		branch:  uuid.New(),
	}
	patients := repository.NewGormPatientRepository(gdb)
	p := &model.Patient{DisplayName: "Anna Petrova"}
	require.NoError(t, patients.Create(context.Background(), p))
	e.patient = p.ID

	e.lc = NewLifecycle(LifecycleDeps{
		Tx:       tx,
		Appts:    e.appts,
		Patients: patients,
		Matcher:  NewShiftMatcher(e.shifts),
		Detector: NewConflictDetector(e.appts),
		Calendar: calendar.NewSynchronizer(tx, e.events, e.appts, zerolog.Nop()),
		Billing:  e.billing,
		Audit:    e.audit,
		Log:      zerolog.Nop(),
	})
	e.free = NewAvailability(e.shifts, e.appts, time.UTC)

	// смена 08:00-12:00
	require.NoError(t, e.shifts.CreateBatch(context.Background(), []model.ShiftEvent{
		{StaffID: e.staff, BranchID: e.branch, StartsAt: at(8, 0), EndsAt: at(12, 0)},
	}))
	return e
}

func (e *env) book(t *testing.T, hour, minute int) *model.Appointment {
	t.Helper()
	out, err := e.lc.Create(context.Background(), reception, CreateRequest{
		PatientID: e.patient,
		StaffID:   e.staff,
		ServiceID: uuid.New(),
		Start:     at(hour, minute),
		End:       at(hour, minute).Add(AppointmentDuration),
	})
	require.NoError(t, err)
	return out.Appointment
}

func TestCreateAppointment(t *testing.T) {
	e := newEnv(t)
	appt := e.book(t, 9, 0)

	assert.Equal(t, model.AppointmentPending, appt.Status)
	assert.Equal(t, e.branch, appt.BranchID)
	assert.Nil(t, appt.CalendarEventID)
	assert.Equal(t, []model.AuditAction{model.ActionCreated}, e.audit.of(appt.ID))
}

func TestCreateAppointmentRejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end time.Time
		kind       apperr.Kind
	}{
		{"ten minutes", at(9, 0), at(9, 10), apperr.KindValidation},
		{"unaligned start", at(9, 5), at(9, 20), apperr.KindValidation},
		{"outside shift", at(13, 0), at(13, 15), apperr.KindNoAvailableShift},
		{"crosses shift end", at(11, 50), at(12, 5), apperr.KindValidation},
		{"last slot still fits", at(11, 45), at(12, 0), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.lc.Create(ctx, reception, CreateRequest{
				PatientID: e.patient, StaffID: e.staff, ServiceID: uuid.New(),
				Start: tc.start, End: tc.end,
			})
			if tc.kind == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}

	_, err := e.lc.Create(ctx, reception, CreateRequest{StaffID: e.staff, Start: at(9, 0), End: at(9, 15)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestConfirmCreatesCalendarEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	appt := e.book(t, 9, 0)

	out, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{VerifiedBy: "cashier"})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, model.AppointmentConfirmed, out.Appointment.Status)
	require.NotNil(t, out.Appointment.ConfirmedAt)
	require.NotNil(t, out.Event)
	assert.Equal(t, "Appointment: Anna Petrova", out.Event.Title)
	assert.Equal(t, model.ColorConfirmed, out.Event.Color)

	stored, err := e.appts.GetByID(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CalendarEventID)
	assert.Equal(t, out.Event.ID, *stored.CalendarEventID)
	assert.Equal(t, "cashier", *stored.VerifiedBy)
}

func TestConfirmIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	appt := e.book(t, 9, 0)

	first, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{})
	require.NoError(t, err)

	again, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, "appointment already confirmed", again.Message)
	assert.Equal(t, first.Event.ID, *again.Appointment.CalendarEventID)

	events, _, err := e.events.ListByStaffRange(ctx, e.staff, day, day.Add(24*time.Hour), 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, []model.AuditAction{model.ActionCreated, model.ActionConfirmed}, e.audit.of(appt.ID))
}

func TestCompetingPendingBookings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.book(t, 9, 0)
	second := e.book(t, 9, 0)

	_, err := e.lc.Confirm(ctx, reception, first.ID, ConfirmContext{})
	require.NoError(t, err)

	_, err = e.lc.Confirm(ctx, reception, second.ID, ConfirmContext{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfirmationConflict, apperr.KindOf(err))

	stored, err := e.appts.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentPending, stored.Status)

	// после подтверждения слот закрыт и для новых броней
	_, err = e.lc.Create(ctx, reception, CreateRequest{
		PatientID: e.patient, StaffID: e.staff, ServiceID: uuid.New(),
		Start: at(9, 0), End: at(9, 15),
	})
	assert.Equal(t, apperr.KindSlotAlreadyConfirmed, apperr.KindOf(err))
}

func TestConcurrentConfirmsPickOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const n = 5
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = e.book(t, 10, 30).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := e.lc.Confirm(ctx, reception, id, ConfirmContext{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.Is(err, apperr.KindConfirmationConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	confirmed, err := e.appts.FindOverlappingConfirmed(ctx, e.staff, at(10, 30), at(10, 45), nil, false)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pending := e.book(t, 9, 0)
	out, err := e.lc.Cancel(ctx, reception, pending.ID, "patient called")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, model.AppointmentCancelled, out.Appointment.Status)
	assert.Equal(t, "patient called", *out.Appointment.CancellationReason)

	confirmed := e.book(t, 9, 30)
	_, err = e.lc.Confirm(ctx, reception, confirmed.ID, ConfirmContext{})
	require.NoError(t, err)

	out, err = e.lc.Cancel(ctx, reception, confirmed.ID, "too late")
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, msgCancelOnlyPending, out.Message)
	assert.Equal(t, model.AppointmentConfirmed, out.Appointment.Status)

	_, err = e.lc.Cancel(ctx, reception, uuid.New(), "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRefundSurvivesBillingFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.billing.refundErr = errors.New("gateway down")

	appt := e.book(t, 9, 0)
	orderID := uuid.New()
	_, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{OrderID: &orderID})
	require.NoError(t, err)

	out, err := e.lc.Refund(ctx, reception, appt.ID, "doctor ill")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentCancelled, out.Appointment.Status)
	assert.True(t, strings.HasPrefix(*out.Appointment.CancellationReason, model.RefundReasonPrefix))
	assert.NotNil(t, out.Appointment.RefundedAt)
	require.NotNil(t, out.Event)
	assert.Equal(t, model.ColorCancelled, out.Event.Color)
	assert.Equal(t, []uuid.UUID{orderID}, e.billing.refunded)

	// отменённую запись вернуть повторно нельзя
	_, err = e.lc.Refund(ctx, reception, appt.ID, "again")
	assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))
}

func TestRefundPendingIsInvalid(t *testing.T) {
	e := newEnv(t)
	appt := e.book(t, 9, 0)

	_, err := e.lc.Refund(context.Background(), reception, appt.ID, "x")
	assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))
	assert.Empty(t, e.billing.refunded)
}

func TestMarkNoShow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	appt := e.book(t, 9, 0)
	_, err := e.lc.MarkNoShow(ctx, reception, appt.ID, "absent")
	assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))

	confirmed, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{})
	require.NoError(t, err)

	out, err := e.lc.MarkNoShow(ctx, reception, appt.ID, "absent")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentNoShow, out.Appointment.Status)

	event, err := e.events.GetByID(ctx, confirmed.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ColorConfirmed, event.Color)
}

func TestRescheduleKeepsCalendarEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	appt := e.book(t, 9, 0)
	confirmed, err := e.lc.Confirm(ctx, reception, appt.ID, ConfirmContext{VerifiedBy: "cashier"})
	require.NoError(t, err)

	out, err := e.lc.Reschedule(ctx, reception, appt.ID, RescheduleRequest{NewStart: at(10, 0), Reason: "doctor late"})
	require.NoError(t, err)
	succ := out.Appointment
	assert.NotEqual(t, appt.ID, succ.ID)
	assert.Equal(t, model.AppointmentConfirmed, succ.Status)
	assert.Equal(t, appt.ID, *succ.RescheduledFromID)
	assert.Equal(t, "cashier", *succ.VerifiedBy)
	assert.True(t, at(10, 0).Equal(succ.StartsAt))

	require.NotNil(t, out.Event)
	assert.Equal(t, confirmed.Event.ID, out.Event.ID)
	assert.True(t, at(10, 0).Equal(out.Event.StartsAt))

	orig, err := e.appts.GetByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentRescheduled, orig.Status)
	assert.Nil(t, orig.CalendarEventID)

	current, err := e.lc.ResolveCurrent(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, succ.ID, current.ID)

	// исходный слот освободился
	e.book(t, 9, 0)
}

func TestRescheduleIntoConfirmedSlot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	taken := e.book(t, 10, 0)
	_, err := e.lc.Confirm(ctx, reception, taken.ID, ConfirmContext{})
	require.NoError(t, err)

	appt := e.book(t, 9, 0)
	_, err = e.lc.Reschedule(ctx, reception, appt.ID, RescheduleRequest{NewStart: at(10, 0)})
	assert.Equal(t, apperr.KindSlotAlreadyConfirmed, apperr.KindOf(err))

	_, err = e.lc.Reschedule(ctx, reception, appt.ID, RescheduleRequest{NewStart: at(14, 0)})
	assert.Equal(t, apperr.KindNoAvailableShift, apperr.KindOf(err))

	stored, err := e.appts.GetByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentPending, stored.Status)
}

func TestResolveCurrentFollowsChain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	appt := e.book(t, 9, 0)
	first, err := e.lc.Reschedule(ctx, reception, appt.ID, RescheduleRequest{NewStart: at(9, 30)})
	require.NoError(t, err)
	second, err := e.lc.Reschedule(ctx, reception, first.Appointment.ID, RescheduleRequest{NewStart: at(10, 0)})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentPending, second.Appointment.Status)
	assert.Nil(t, second.Event)

	current, err := e.lc.ResolveCurrent(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Appointment.ID, current.ID)
}
