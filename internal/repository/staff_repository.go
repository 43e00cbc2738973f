package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type StaffRepository interface {
	Create(ctx context.Context, staff *model.Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Staff, error)
}

type GormStaffRepository struct {
	db *gorm.DB
}

func NewGormStaffRepository(db *gorm.DB) *GormStaffRepository {
	return &GormStaffRepository{db: db}
}

func (r *GormStaffRepository) Create(ctx context.Context, staff *model.Staff) error {
	return conn(ctx, r.db).Create(staff).Error
}

func (r *GormStaffRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Staff, error) {
	var s model.Staff
	if err := conn(ctx, r.db).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "staff")
	}
	return &s, nil
}
