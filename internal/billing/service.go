// Package billing ведёт заказы и возвраты, связанные с записями.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

type Service struct {
	orders  repository.OrderRepository
	gateway PaymentGateway
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(orders repository.OrderRepository, gateway PaymentGateway, log zerolog.Logger) *Service {
	if gateway == nil {
		gateway = NopGateway{}
	}
	return &Service{
		orders:  orders,
		gateway: gateway,
		log:     log.With().Str("component", "billing").Logger(),
		now:     time.Now,
	}
}

func (s *Service) FindOrdersByReference(ctx context.Context, reference string) ([]model.Order, error) {
	return s.orders.FindByReference(ctx, reference)
}

func (s *Service) FindOrdersByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]model.Order, error) {
	return s.orders.FindByAppointment(ctx, appointmentID)
}

// MarkPaid фиксирует оплату заказа; повторный вызов ничего не меняет.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != model.OrderStatusOpen {
		return nil
	}
	return s.orders.UpdateStatus(ctx, orderID, model.OrderStatusPaid, s.now())
}

// CancelOrder отменяет неоплаченный заказ. Оплаченный заказ отменой не
// закрывается, для него есть RefundOrder.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case model.OrderStatusCancelled, model.OrderStatusRefunded:
		return nil
	case model.OrderStatusPaid:
		s.log.Info().Str("order_id", orderID.String()).Msg("paid order is not cancelled, refund required")
		return nil
	}

	if order.PaymentIntentID != nil {
		if err := s.gateway.Cancel(ctx, *order.PaymentIntentID, "cancel:"+orderID.String()); err != nil {
			return err
		}
	}
	return s.orders.UpdateStatus(ctx, orderID, model.OrderStatusCancelled, s.now())
}

// RefundOrder возвращает оплату и закрывает заказ.
func (s *Service) RefundOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == model.OrderStatusRefunded {
		return nil
	}

	if order.PaymentIntentID != nil && order.Status == model.OrderStatusPaid {
		if err := s.gateway.Refund(ctx, *order.PaymentIntentID, "refund:"+orderID.String()); err != nil {
			return err
		}
	}
	if err := s.orders.UpdateStatus(ctx, orderID, model.OrderStatusRefunded, s.now()); err != nil {
		return fmt.Errorf("mark order refunded: %w", err)
	}
	return nil
}
