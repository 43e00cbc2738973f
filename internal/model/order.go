package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// orders — заказ в биллинге; Reference приходит во внешних сигналах.
type Order struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Reference string      `gorm:"type:varchar(255);not null;uniqueIndex"`
	Status    OrderStatus `gorm:"type:varchar(16);not null;index"`

	// Идентификатор платежа у провайдера (Stripe PaymentIntent).
	PaymentIntentID *string `gorm:"type:varchar(255)"`

	CancelledAt *time.Time
	RefundedAt  *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Lines []OrderLine `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = OrderStatusOpen
	}
	return nil
}

// order_lines — позиция заказа, ссылающаяся на запись.
type OrderLine struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	OrderID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AppointmentID uuid.UUID `gorm:"type:uuid;not null;index"`

	CreatedAt time.Time `gorm:"not null"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
