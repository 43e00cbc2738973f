package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Тип сущности в аудите.
type EntityType string

const (
	EntityAppointment   EntityType = "appointment"
	EntityShiftSchedule EntityType = "shift_schedule"
	EntityShiftEvent    EntityType = "shift_event"
)

// Действие аудита.
type AuditAction string

const (
	ActionCreated     AuditAction = "created"
	ActionConfirmed   AuditAction = "confirmed"
	ActionCancelled   AuditAction = "cancelled"
	ActionRefunded    AuditAction = "refunded"
	ActionNoShow      AuditAction = "no_show"
	ActionRescheduled AuditAction = "rescheduled"
	ActionGenerated   AuditAction = "generated"
	ActionRemoved     AuditAction = "removed"
	ActionDeactivated AuditAction = "deactivated"
	ActionReactivated AuditAction = "reactivated"
)

// audit_events
type AuditEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EntityID   uuid.UUID   `gorm:"type:uuid;not null;index"`
	EntityType EntityType  `gorm:"type:varchar(32);not null;index"`
	Action     AuditAction `gorm:"type:varchar(32);not null"`

	ActorID string `gorm:"type:varchar(255);not null"`

	OccurredAt time.Time `gorm:"not null;index"`

	Details datatypes.JSON
}

func (e *AuditEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}
