package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppointmentStatus string

var ErrUnknownStatus = errors.New("unknown appointment status")

const (
	AppointmentPending     AppointmentStatus = "PENDING"
	AppointmentConfirmed   AppointmentStatus = "CONFIRMED"
	AppointmentCancelled   AppointmentStatus = "CANCELLED"
	AppointmentNoShow      AppointmentStatus = "NO_SHOW"
	AppointmentRescheduled AppointmentStatus = "RESCHEDULED"
)

// Переход жизненного цикла записи.
type Transition string

const (
	TransitionConfirm    Transition = "confirm"
	TransitionCancel     Transition = "cancel"
	TransitionRefund     Transition = "refund"
	TransitionNoShow     Transition = "no_show"
	TransitionReschedule Transition = "reschedule"
)

// Допустимые переходы: из статуса по действию в новый статус.
var appointmentTransitions = map[AppointmentStatus]map[Transition]AppointmentStatus{
	AppointmentPending: {
		TransitionConfirm:    AppointmentConfirmed,
		TransitionCancel:     AppointmentCancelled,
		TransitionReschedule: AppointmentRescheduled,
	},
	AppointmentConfirmed: {
		TransitionRefund:     AppointmentCancelled,
		TransitionNoShow:     AppointmentNoShow,
		TransitionReschedule: AppointmentRescheduled,
	},
}

// Next возвращает статус после перехода; ok=false, если переход запрещён.
func (s AppointmentStatus) Next(t Transition) (AppointmentStatus, bool) {
	next, ok := appointmentTransitions[s][t]
	return next, ok
}

func (s AppointmentStatus) IsTerminal() bool {
	_, ok := appointmentTransitions[s]
	return !ok
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentPending, AppointmentConfirmed, AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled:
		return true
	}
	return false
}

// Префикс причины отмены при возврате средств.
const RefundReasonPrefix = "refund: "

// appointments
type Appointment struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	PatientID uuid.UUID `gorm:"type:uuid;not null;index"`
	StaffID   uuid.UUID `gorm:"type:uuid;not null;index:idx_appt_staff_range,priority:1"`
	ServiceID uuid.UUID `gorm:"type:uuid;not null"`
	BranchID  uuid.UUID `gorm:"type:uuid;not null;index"`

	StartsAt time.Time `gorm:"not null;index:idx_appt_staff_range,priority:2"`
	EndsAt   time.Time `gorm:"not null"`

	Status AppointmentStatus `gorm:"type:varchar(16);not null;index"`

	// Связь с событием календаря; у события не больше одной записи.
	CalendarEventID *uuid.UUID `gorm:"type:uuid;uniqueIndex"`

	// Предыдущая запись, из которой перенесли эту.
	RescheduledFromID *uuid.UUID `gorm:"type:uuid;index"`

	CancellationReason *string `gorm:"type:text"`
	NoShowReason       *string `gorm:"type:text"`
	RescheduleReason   *string `gorm:"type:text"`

	OrderID *uuid.UUID `gorm:"type:uuid;index"`

	ConfirmedAt *time.Time
	VerifiedBy  *string `gorm:"type:varchar(255)"`
	CancelledAt *time.Time
	RefundedAt  *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Patient *Patient `gorm:"foreignKey:PatientID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Staff   *Staff   `gorm:"foreignKey:StaffID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (a *Appointment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AppointmentPending
	}
	return nil
}

func (a *Appointment) BeforeSave(*gorm.DB) error {
	if !a.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, a.Status)
	}
	a.StartsAt = a.StartsAt.UTC()
	a.EndsAt = a.EndsAt.UTC()
	return nil
}

// IsRefunded: отмена после оплаты.
func (a *Appointment) IsRefunded() bool {
	return a.Status == AppointmentCancelled && a.RefundedAt != nil
}
