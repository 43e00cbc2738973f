package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Staff — сотрудник клиники (врач, медсестра).
type Staff struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	DisplayName string `gorm:"type:varchar(255);not null"`
	Speciality  string `gorm:"type:varchar(255)"`

	// Филиал по умолчанию.
	BranchID uuid.UUID `gorm:"type:uuid;not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Schedules []ShiftSchedule `gorm:"foreignKey:StaffID"`
}

func (s *Staff) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
