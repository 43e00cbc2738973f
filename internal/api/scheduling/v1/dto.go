package schedulingv1

import (
	"time"

	"github.com/Leganyst/clinic-scheduling/internal/calendar"
	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type CreateAppointmentRequest struct {
	PatientID string    `json:"patient_id" validate:"required,uuid"`
	StaffID   string    `json:"staff_id" validate:"required,uuid"`
	ServiceID string    `json:"service_id" validate:"required,uuid"`
	BranchID  string    `json:"branch_id" validate:"omitempty,uuid"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
	EndsAt    time.Time `json:"ends_at" validate:"required"`
}

type ConfirmAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	VerifiedBy    string `json:"verified_by" validate:"max=255"`
	OrderID       string `json:"order_id" validate:"omitempty,uuid"`
}

// AppointmentReasonRequest — отмена, возврат и неявка.
type AppointmentReasonRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	Reason        string `json:"reason" validate:"max=1000"`
}

type RescheduleAppointmentRequest struct {
	AppointmentID string    `json:"appointment_id" validate:"required,uuid"`
	NewStart      time.Time `json:"new_start" validate:"required"`
	Reason        string    `json:"reason" validate:"max=1000"`
	NewStaffID    string    `json:"new_staff_id" validate:"omitempty,uuid"`
	NewBranchID   string    `json:"new_branch_id" validate:"omitempty,uuid"`
}

type GetAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
}

type CreateScheduleRequest struct {
	StaffID        string   `json:"staff_id" validate:"required,uuid"`
	BranchID       string   `json:"branch_id" validate:"required,uuid"`
	TimeZone       string   `json:"time_zone" validate:"required"`
	StartTime      string   `json:"start_time" validate:"required"`
	EndTime        string   `json:"end_time" validate:"required"`
	Frequency      string   `json:"frequency" validate:"required,oneof=DAILY WEEKLY"`
	Interval       int      `json:"interval" validate:"gte=0"`
	Weekdays       []string `json:"weekdays"`
	AnchorDate     string   `json:"anchor_date" validate:"required"`
	Until          string   `json:"until"`
	Count          int      `json:"count" validate:"gte=0"`
	ExceptionDates []string `json:"exception_dates"`
}

type ScheduleRequest struct {
	ScheduleID        string `json:"schedule_id" validate:"required,uuid"`
	IncludeBaseMarker bool   `json:"include_base_marker"`
}

type ShiftRequest struct {
	ShiftID string `json:"shift_id" validate:"required,uuid"`
}

type ListCalendarEventsRequest struct {
	StaffID  string    `json:"staff_id" validate:"required,uuid"`
	From     time.Time `json:"from" validate:"required"`
	To       time.Time `json:"to" validate:"required,gtfield=From"`
	Page     int       `json:"page" validate:"gte=0"`
	PageSize int       `json:"page_size" validate:"gte=0"`
}

type ListFreeSlotsRequest struct {
	StaffID string    `json:"staff_id" validate:"required,uuid"`
	From    time.Time `json:"from" validate:"required"`
	To      time.Time `json:"to" validate:"required,gtfield=From"`
}

type SlotDTO struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type AppointmentDTO struct {
	ID                 string     `json:"id"`
	PatientID          string     `json:"patient_id"`
	StaffID            string     `json:"staff_id"`
	ServiceID          string     `json:"service_id"`
	BranchID           string     `json:"branch_id"`
	StartsAt           time.Time  `json:"starts_at"`
	EndsAt             time.Time  `json:"ends_at"`
	Status             string     `json:"status"`
	CalendarEventID    string     `json:"calendar_event_id,omitempty"`
	RescheduledFromID  string     `json:"rescheduled_from_id,omitempty"`
	OrderID            string     `json:"order_id,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	NoShowReason       string     `json:"no_show_reason,omitempty"`
	RescheduleReason   string     `json:"reschedule_reason,omitempty"`
	VerifiedBy         string     `json:"verified_by,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`
}

type CalendarEventDTO struct {
	ID                 string    `json:"id"`
	Kind               string    `json:"kind"`
	Title              string    `json:"title"`
	Status             string    `json:"status"`
	Color              string    `json:"color"`
	ColorHex           string    `json:"color_hex"`
	StaffID            string    `json:"staff_id"`
	BranchID           string    `json:"branch_id"`
	StartsAt           time.Time `json:"starts_at"`
	EndsAt             time.Time `json:"ends_at"`
	IsCancelled        bool      `json:"is_cancelled"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
}

type ShiftDTO struct {
	ID             string    `json:"id"`
	ScheduleID     string    `json:"schedule_id,omitempty"`
	StaffID        string    `json:"staff_id"`
	BranchID       string    `json:"branch_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	IsBaseTemplate bool      `json:"is_base_template"`
}

type ScheduleDTO struct {
	ID         string `json:"id"`
	StaffID    string `json:"staff_id"`
	BranchID   string `json:"branch_id"`
	TimeZone   string `json:"time_zone"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Frequency  string `json:"frequency"`
	Interval   int    `json:"interval"`
	AnchorDate string `json:"anchor_date"`
}

type PageDTO struct {
	Items    []CalendarEventDTO `json:"items"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Total    int                `json:"total"`
	HasNext  bool               `json:"has_next"`
	HasPrev  bool               `json:"has_prev"`
}

func appointmentDTO(a *model.Appointment) AppointmentDTO {
	dto := AppointmentDTO{
		ID:          a.ID.String(),
		PatientID:   a.PatientID.String(),
		StaffID:     a.StaffID.String(),
		ServiceID:   a.ServiceID.String(),
		BranchID:    a.BranchID.String(),
		StartsAt:    a.StartsAt.UTC(),
		EndsAt:      a.EndsAt.UTC(),
		Status:      string(a.Status),
		ConfirmedAt: a.ConfirmedAt,
		CancelledAt: a.CancelledAt,
		RefundedAt:  a.RefundedAt,
	}
	if a.CalendarEventID != nil {
		dto.CalendarEventID = a.CalendarEventID.String()
	}
	if a.RescheduledFromID != nil {
		dto.RescheduledFromID = a.RescheduledFromID.String()
	}
	if a.OrderID != nil {
		dto.OrderID = a.OrderID.String()
	}
	dto.CancellationReason = deref(a.CancellationReason)
	dto.NoShowReason = deref(a.NoShowReason)
	dto.RescheduleReason = deref(a.RescheduleReason)
	dto.VerifiedBy = deref(a.VerifiedBy)
	return dto
}

func calendarEventDTO(e *model.CalendarEvent) CalendarEventDTO {
	return CalendarEventDTO{
		ID:                 e.ID.String(),
		Kind:               string(e.Kind),
		Title:              e.Title,
		Status:             string(e.Status),
		Color:              string(e.Color),
		ColorHex:           e.Color.Hex(),
		StaffID:            e.StaffID.String(),
		BranchID:           e.BranchID.String(),
		StartsAt:           e.StartsAt.UTC(),
		EndsAt:             e.EndsAt.UTC(),
		IsCancelled:        e.IsCancelled,
		CancellationReason: deref(e.CancellationReason),
	}
}

func eventViewDTO(v calendar.EventView) CalendarEventDTO {
	return CalendarEventDTO{
		ID:                 v.ID.String(),
		Kind:               string(v.Kind),
		Title:              v.Title,
		Status:             string(v.Status),
		Color:              string(v.Color),
		ColorHex:           v.ColorHex,
		StaffID:            v.StaffID.String(),
		BranchID:           v.BranchID.String(),
		StartsAt:           v.StartsAt.UTC(),
		EndsAt:             v.EndsAt.UTC(),
		IsCancelled:        v.IsCancelled,
		CancellationReason: v.CancellationReason,
	}
}

func shiftDTO(s model.ShiftEvent) ShiftDTO {
	dto := ShiftDTO{
		ID:             s.ID.String(),
		StaffID:        s.StaffID.String(),
		BranchID:       s.BranchID.String(),
		StartsAt:       s.StartsAt.UTC(),
		EndsAt:         s.EndsAt.UTC(),
		IsBaseTemplate: s.IsBaseTemplate,
	}
	if s.ScheduleID != nil {
		dto.ScheduleID = s.ScheduleID.String()
	}
	return dto
}

func scheduleDTO(s *model.ShiftSchedule) ScheduleDTO {
	return ScheduleDTO{
		ID:         s.ID.String(),
		StaffID:    s.StaffID.String(),
		BranchID:   s.BranchID.String(),
		TimeZone:   s.TimeZone,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Frequency:  string(s.Frequency),
		Interval:   s.Interval,
		AnchorDate: s.AnchorDate,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
