package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Частота повторения шаблона смены.
type RecurrenceFrequency string

const (
	FrequencyDaily  RecurrenceFrequency = "DAILY"
	FrequencyWeekly RecurrenceFrequency = "WEEKLY"
)

// shift_schedules — недельный шаблон смен сотрудника.
type ShiftSchedule struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	StaffID  uuid.UUID `gorm:"type:uuid;not null;index"`
	BranchID uuid.UUID `gorm:"type:uuid;not null;index"`

	TimeZone string `gorm:"type:varchar(64);not null"`

	// Локальное время начала/конца смены, "HH:MM".
	StartTime string `gorm:"type:varchar(8);not null"`
	EndTime   string `gorm:"type:varchar(8);not null"`

	Frequency RecurrenceFrequency `gorm:"type:varchar(16);not null"`
	Interval  int                 `gorm:"not null"`

	// Дни недели ("MO".."SU") в виде JSON-массива.
	Weekdays datatypes.JSON

	// Даты без времени, "YYYY-MM-DD".
	AnchorDate string  `gorm:"type:varchar(10);not null"`
	UntilDate  *string `gorm:"type:varchar(10)"`
	Count      *int

	// Даты-исключения "YYYY-MM-DD" в виде JSON-массива.
	ExceptionDates datatypes.JSON

	DeactivatedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Staff *Staff `gorm:"foreignKey:StaffID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (s *ShiftSchedule) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *ShiftSchedule) IsActive() bool {
	return s.DeactivatedAt == nil
}

// WeekdayCodes декодирует JSON-список дней недели.
func (s *ShiftSchedule) WeekdayCodes() ([]string, error) {
	return decodeStrings(s.Weekdays)
}

// ExceptionDateList декодирует JSON-список дат-исключений.
func (s *ShiftSchedule) ExceptionDateList() ([]string, error) {
	return decodeStrings(s.ExceptionDates)
}

// SetWeekdays и SetExceptionDates кодируют списки обратно в JSON.
func (s *ShiftSchedule) SetWeekdays(codes []string) error {
	raw, err := encodeStrings(codes)
	if err != nil {
		return err
	}
	s.Weekdays = raw
	return nil
}

func (s *ShiftSchedule) SetExceptionDates(dates []string) error {
	raw, err := encodeStrings(dates)
	if err != nil {
		return err
	}
	s.ExceptionDates = raw
	return nil
}

func decodeStrings(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json list: %w", err)
	}
	return out, nil
}

func encodeStrings(values []string) (datatypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
