package schedulingv1

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/calendar"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/service"
	"github.com/Leganyst/clinic-scheduling/internal/timeslot"
)

// Appointments — операции жизненного цикла записи.
type Appointments interface {
	Create(ctx context.Context, actor identity.Actor, req service.CreateRequest) (*service.Outcome, error)
	Confirm(ctx context.Context, actor identity.Actor, id uuid.UUID, cc service.ConfirmContext) (*service.Outcome, error)
	Cancel(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*service.Outcome, error)
	Refund(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*service.Outcome, error)
	MarkNoShow(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*service.Outcome, error)
	Reschedule(ctx context.Context, actor identity.Actor, id uuid.UUID, req service.RescheduleRequest) (*service.Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
}

type Schedules interface {
	CreateSchedule(ctx context.Context, actor identity.Actor, in service.ScheduleInput) (*model.ShiftSchedule, error)
	GenerateShifts(ctx context.Context, actor identity.Actor, scheduleID uuid.UUID, includeBase bool) ([]model.ShiftEvent, error)
	RemoveSchedule(ctx context.Context, actor identity.Actor, scheduleID uuid.UUID) (int64, error)
	DeactivateShift(ctx context.Context, actor identity.Actor, shiftID uuid.UUID) error
	ReactivateShift(ctx context.Context, actor identity.Actor, shiftID uuid.UUID) error
}

type Calendar interface {
	ListEvents(ctx context.Context, staffID uuid.UUID, from, to time.Time, page, pageSize int) (calendar.Page[calendar.EventView], error)
}

type FreeSlots interface {
	FreeSlots(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]timeslot.TimeRange, error)
}

type Server struct {
	appts     Appointments
	schedules Schedules
	calendar  Calendar
	free      FreeSlots
	validate  *validator.Validate
	log       zerolog.Logger
}

var _ SchedulingServer = (*Server)(nil)

func NewServer(appts Appointments, schedules Schedules, cal Calendar, free FreeSlots, log zerolog.Logger) *Server {
	return &Server{
		appts:     appts,
		schedules: schedules,
		calendar:  cal,
		free:      free,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log.With().Str("component", "grpc").Logger(),
	}
}

type appointmentResponse struct {
	Appointment AppointmentDTO    `json:"appointment"`
	Event       *CalendarEventDTO `json:"calendar_event,omitempty"`
	Changed     bool              `json:"changed"`
}

func (s *Server) outcome(op string, out *service.Outcome, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, s.fail(op, err)
	}
	resp := appointmentResponse{Appointment: appointmentDTO(out.Appointment), Changed: out.Changed}
	if out.Event != nil {
		ev := calendarEventDTO(out.Event)
		resp.Event = &ev
	}
	return envelope(out.Message, resp)
}

// fail логирует только неожиданные ошибки.
func (s *Server) fail(op string, err error) error {
	if !apperr.IsExpected(err) {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	return toStatus(err)
}

func (s *Server) CreateAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateAppointmentRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("create", err)
	}
	cr := service.CreateRequest{
		PatientID: uuid.MustParse(req.PatientID),
		StaffID:   uuid.MustParse(req.StaffID),
		ServiceID: uuid.MustParse(req.ServiceID),
		Start:     req.StartsAt,
		End:       req.EndsAt,
	}
	if req.BranchID != "" {
		cr.BranchID = uuid.MustParse(req.BranchID)
	}
	out, err := s.appts.Create(ctx, identity.FromContext(ctx), cr)
	return s.outcome("create", out, err)
}

func (s *Server) ConfirmAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ConfirmAppointmentRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("confirm", err)
	}
	cc := service.ConfirmContext{VerifiedBy: req.VerifiedBy}
	if req.OrderID != "" {
		id := uuid.MustParse(req.OrderID)
		cc.OrderID = &id
	}
	out, err := s.appts.Confirm(ctx, identity.FromContext(ctx), uuid.MustParse(req.AppointmentID), cc)
	return s.outcome("confirm", out, err)
}

func (s *Server) CancelAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AppointmentReasonRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("cancel", err)
	}
	out, err := s.appts.Cancel(ctx, identity.FromContext(ctx), uuid.MustParse(req.AppointmentID), req.Reason)
	return s.outcome("cancel", out, err)
}

func (s *Server) RefundAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AppointmentReasonRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("refund", err)
	}
	out, err := s.appts.Refund(ctx, identity.FromContext(ctx), uuid.MustParse(req.AppointmentID), req.Reason)
	return s.outcome("refund", out, err)
}

func (s *Server) MarkNoShow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AppointmentReasonRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("no_show", err)
	}
	out, err := s.appts.MarkNoShow(ctx, identity.FromContext(ctx), uuid.MustParse(req.AppointmentID), req.Reason)
	return s.outcome("no_show", out, err)
}

func (s *Server) RescheduleAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RescheduleAppointmentRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("reschedule", err)
	}
	rr := service.RescheduleRequest{NewStart: req.NewStart, Reason: req.Reason}
	if req.NewStaffID != "" {
		id := uuid.MustParse(req.NewStaffID)
		rr.NewStaffID = &id
	}
	if req.NewBranchID != "" {
		id := uuid.MustParse(req.NewBranchID)
		rr.NewBranchID = &id
	}
	out, err := s.appts.Reschedule(ctx, identity.FromContext(ctx), uuid.MustParse(req.AppointmentID), rr)
	return s.outcome("reschedule", out, err)
}

func (s *Server) GetAppointment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetAppointmentRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("get", err)
	}
	appt, err := s.appts.Get(ctx, uuid.MustParse(req.AppointmentID))
	if err != nil {
		return nil, s.fail("get", err)
	}
	return envelope("ok", appointmentResponse{Appointment: appointmentDTO(appt)})
}

func (s *Server) CreateSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateScheduleRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("create_schedule", err)
	}
	sched, err := s.schedules.CreateSchedule(ctx, identity.FromContext(ctx), service.ScheduleInput{
		StaffID:        uuid.MustParse(req.StaffID),
		BranchID:       uuid.MustParse(req.BranchID),
		TimeZone:       req.TimeZone,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Frequency:      model.RecurrenceFrequency(req.Frequency),
		Interval:       req.Interval,
		Weekdays:       req.Weekdays,
		AnchorDate:     req.AnchorDate,
		Until:          req.Until,
		Count:          req.Count,
		ExceptionDates: req.ExceptionDates,
	})
	if err != nil {
		return nil, s.fail("create_schedule", err)
	}
	return envelope("schedule created", scheduleDTO(sched))
}

func (s *Server) GenerateShifts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ScheduleRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("generate_shifts", err)
	}
	shifts, err := s.schedules.GenerateShifts(ctx, identity.FromContext(ctx), uuid.MustParse(req.ScheduleID), req.IncludeBaseMarker)
	if err != nil {
		return nil, s.fail("generate_shifts", err)
	}
	items := make([]ShiftDTO, 0, len(shifts))
	for _, sh := range shifts {
		items = append(items, shiftDTO(sh))
	}
	return envelope("shifts generated", map[string]any{"shifts": items, "count": len(items)})
}

func (s *Server) RemoveScheduleShifts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ScheduleRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("remove_schedule", err)
	}
	removed, err := s.schedules.RemoveSchedule(ctx, identity.FromContext(ctx), uuid.MustParse(req.ScheduleID))
	if err != nil {
		return nil, s.fail("remove_schedule", err)
	}
	return envelope("schedule removed", map[string]any{"removed_shifts": removed})
}

func (s *Server) DeactivateShift(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ShiftRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("deactivate_shift", err)
	}
	if err := s.schedules.DeactivateShift(ctx, identity.FromContext(ctx), uuid.MustParse(req.ShiftID)); err != nil {
		return nil, s.fail("deactivate_shift", err)
	}
	return envelope("shift deactivated", nil)
}

func (s *Server) ReactivateShift(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ShiftRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("reactivate_shift", err)
	}
	if err := s.schedules.ReactivateShift(ctx, identity.FromContext(ctx), uuid.MustParse(req.ShiftID)); err != nil {
		return nil, s.fail("reactivate_shift", err)
	}
	return envelope("shift reactivated", nil)
}

func (s *Server) ListCalendarEvents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListCalendarEventsRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("list_events", err)
	}
	page, err := s.calendar.ListEvents(ctx, uuid.MustParse(req.StaffID), req.From, req.To, req.Page, req.PageSize)
	if err != nil {
		return nil, s.fail("list_events", apperr.Internal(err, "list calendar events"))
	}
	items := make([]CalendarEventDTO, 0, len(page.Items))
	for _, v := range page.Items {
		items = append(items, eventViewDTO(v))
	}
	return envelope("ok", PageDTO{
		Items:    items,
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    page.Total,
		HasNext:  page.HasNext,
		HasPrev:  page.HasPrev,
	})
}

func (s *Server) ListFreeSlots(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListFreeSlotsRequest
	if err := decode(s.validate, in, &req); err != nil {
		return nil, s.fail("free_slots", err)
	}
	slots, err := s.free.FreeSlots(ctx, uuid.MustParse(req.StaffID), req.From, req.To)
	if err != nil {
		return nil, s.fail("free_slots", err)
	}
	items := make([]SlotDTO, 0, len(slots))
	for _, sl := range slots {
		items = append(items, SlotDTO{StartsAt: sl.Start, EndsAt: sl.End})
	}
	return envelope("ok", map[string]any{"slots": items, "total": len(items)})
}
