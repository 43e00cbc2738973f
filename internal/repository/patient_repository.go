package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/model"
)

type PatientRepository interface {
	Create(ctx context.Context, patient *model.Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	FindByPhone(ctx context.Context, phone string) (*model.Patient, error)
}

type GormPatientRepository struct {
	db *gorm.DB
}

func NewGormPatientRepository(db *gorm.DB) *GormPatientRepository {
	return &GormPatientRepository{db: db}
}

func (r *GormPatientRepository) Create(ctx context.Context, patient *model.Patient) error {
	patient.ContactPhone = normalizePhone(patient.ContactPhone)
	return conn(ctx, r.db).Create(patient).Error
}

func (r *GormPatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	if err := conn(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "patient")
	}
	return &p, nil
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	// только цифры, форматирование отбрасываем
	b := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		c := phone[i]
		if c >= '0' && c <= '9' {
			b = append(b, c)
		}
	}
	return string(b)
}

func (r *GormPatientRepository) FindByPhone(ctx context.Context, phone string) (*model.Patient, error) {
	n := normalizePhone(phone)
	if n == "" {
		return nil, notFound(gorm.ErrRecordNotFound, "patient")
	}

	var p model.Patient
	if err := conn(ctx, r.db).Where("contact_phone = ?", n).First(&p).Error; err != nil {
		return nil, notFound(err, "patient")
	}
	return &p, nil
}
