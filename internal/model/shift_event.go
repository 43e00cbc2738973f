package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Вид события календаря.
type EventKind string

const (
	EventKindShift       EventKind = "SHIFT"
	EventKindAppointment EventKind = "APPOINTMENT"
)

// Статус смены. Сгенерированные смены всегда подтверждены.
type ShiftStatus string

const (
	ShiftStatusConfirmed ShiftStatus = "CONFIRMED"
)

// shift_events — конкретное окно доступности сотрудника.
type ShiftEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	ScheduleID *uuid.UUID `gorm:"type:uuid;index"`
	StaffID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_shift_staff_range,priority:1"`
	BranchID   uuid.UUID  `gorm:"type:uuid;not null;index"`

	StartsAt time.Time `gorm:"not null;index:idx_shift_staff_range,priority:2"`
	EndsAt   time.Time `gorm:"not null"`

	Kind   EventKind   `gorm:"type:varchar(16);not null"`
	Status ShiftStatus `gorm:"type:varchar(16);not null;index"`

	IsBaseTemplate bool `gorm:"not null"`

	// Мягкая деактивация: такие смены не участвуют в подборе.
	DeactivatedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Schedule *ShiftSchedule `gorm:"foreignKey:ScheduleID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (s *ShiftEvent) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Kind == "" {
		s.Kind = EventKindShift
	}
	if s.Status == "" {
		s.Status = ShiftStatusConfirmed
	}
	return nil
}

func (s *ShiftEvent) BeforeSave(*gorm.DB) error {
	s.StartsAt = s.StartsAt.UTC()
	s.EndsAt = s.EndsAt.UTC()
	return nil
}

func (s *ShiftEvent) IsActive() bool {
	return s.DeactivatedAt == nil
}
