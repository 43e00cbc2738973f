package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type AuditRepository interface {
	Create(ctx context.Context, event *model.AuditEvent) error
	// История сущности в порядке возникновения.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]model.AuditEvent, error)
}

type GormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	return conn(ctx, r.db).Create(event).Error
}

func (r *GormAuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := conn(ctx, r.db).
		Where("entity_id = ?", entityID).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
