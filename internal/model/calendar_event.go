package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Статус события календаря повторяет статус записи.
type CalendarStatus string

const (
	CalendarStatusPending   CalendarStatus = "PENDING"
	CalendarStatusConfirmed CalendarStatus = "CONFIRMED"
	CalendarStatusCancelled CalendarStatus = "CANCELLED"
)

// Цветовая метка события.
type CalendarColor string

const (
	ColorPending   CalendarColor = "pending"
	ColorConfirmed CalendarColor = "confirmed"
	ColorCancelled CalendarColor = "cancelled"
	ColorShift     CalendarColor = "shift"
)

var colorHex = map[CalendarColor]string{
	ColorPending:   "#F5A623",
	ColorConfirmed: "#2E7D32",
	ColorCancelled: "#D32F2F",
	ColorShift:     "#90A4AE",
}

// Hex — цвет для клиента календаря.
func (c CalendarColor) Hex() string {
	if h, ok := colorHex[c]; ok {
		return h
	}
	return colorHex[ColorShift]
}

// calendar_events
type CalendarEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Title string    `gorm:"type:varchar(255);not null"`
	Kind  EventKind `gorm:"type:varchar(16);not null;index"`

	Status CalendarStatus `gorm:"type:varchar(16);not null"`
	Color  CalendarColor  `gorm:"type:varchar(16);not null"`

	StaffID  uuid.UUID `gorm:"type:uuid;not null;index:idx_cal_staff_range,priority:1"`
	BranchID uuid.UUID `gorm:"type:uuid;not null;index"`

	StartsAt time.Time `gorm:"not null;index:idx_cal_staff_range,priority:2"`
	EndsAt   time.Time `gorm:"not null"`

	IsCancelled        bool
	CancellationReason *string `gorm:"type:text"`

	// Запись, для которой событие было создано впервые.
	OriginAppointmentID *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (e *CalendarEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *CalendarEvent) BeforeSave(*gorm.DB) error {
	e.StartsAt = e.StartsAt.UTC()
	e.EndsAt = e.EndsAt.UTC()
	return nil
}
