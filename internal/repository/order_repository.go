package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type OrderRepository interface {
	// Создать заказ вместе с позициями.
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// Заказы по внешней ссылке либо по ID, с позициями.
	FindByReference(ctx context.Context, reference string) ([]model.Order, error)
	// Заказы, в которые входит запись.
	FindByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, at time.Time) error
}

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *model.Order) error {
	return conn(ctx, r.db).Create(order).Error
}

func (r *GormOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	if err := conn(ctx, r.db).Preload("Lines").First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "order")
	}
	return &o, nil
}

func (r *GormOrderRepository) FindByReference(ctx context.Context, reference string) ([]model.Order, error) {
	q := conn(ctx, r.db).Preload("Lines").Where("reference = ?", reference)
	if id, err := uuid.Parse(reference); err == nil {
		q = q.Or("id = ?", id)
	}

	var orders []model.Order
	if err := q.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormOrderRepository) FindByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := conn(ctx, r.db).
		Preload("Lines").
		Where("id IN (?)", conn(ctx, r.db).Model(&model.OrderLine{}).Select("order_id").Where("appointment_id = ?", appointmentID)).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, at time.Time) error {
	update := map[string]any{
		"status": status,
	}
	switch status {
	case model.OrderStatusCancelled:
		update["cancelled_at"] = at.UTC()
	case model.OrderStatusRefunded:
		update["refunded_at"] = at.UTC()
	}
	return conn(ctx, r.db).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(update).
		Error
}
