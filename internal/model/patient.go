package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// patients — пациент клиники. Имя попадает в заголовок события календаря.
type Patient struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	DisplayName  string `gorm:"type:varchar(255);not null"`
	ContactPhone string `gorm:"type:varchar(32)"`
	Note         string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (p *Patient) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
