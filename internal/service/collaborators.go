package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

// CalendarSync привязывает или обновляет событие календаря записи.
type CalendarSync interface {
	AttachOrUpdate(ctx context.Context, appt *model.Appointment, patientName string) (*model.CalendarEvent, error)
}

// AuditRecorder пишет аудит; ошибки остаются внутри реализации.
type AuditRecorder interface {
	Record(ctx context.Context, entityID uuid.UUID, entityType model.EntityType, action model.AuditAction, actorID string, at time.Time)
}

// Billing — заказы и платежи, связанные с записью.
type Billing interface {
	FindOrdersByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]model.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
	RefundOrder(ctx context.Context, orderID uuid.UUID) error
}
