// Package recurrence разворачивает шаблон смен сотрудника в конкретные смены.
package recurrence

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/timeslot"
)

// DefaultHorizonDays — горизонт для шаблонов без until и count.
const DefaultHorizonDays = 90

// maxWindowDays ограничивает перебор дат для шаблонов с одним count.
const maxWindowDays = 5 * 366

// Template — входные данные развёртки.
type Template struct {
	ScheduleID *uuid.UUID
	StaffID    uuid.UUID
	BranchID   uuid.UUID
	TimeZone   string

	// "HH:MM" в часовом поясе TimeZone.
	StartTime string
	EndTime   string

	Frequency model.RecurrenceFrequency
	Interval  int
	// "MO".."SU" или полные английские названия; если пусто, берётся день недели якоря.
	Weekdays []string

	// "YYYY-MM-DD"
	AnchorDate     string
	Until          string
	Count          int
	ExceptionDates []string

	// Сохранить исходный шаблон отдельным маркером.
	IncludeBaseMarker bool
}

// FromSchedule собирает Template из сохранённого шаблона.
func FromSchedule(s *model.ShiftSchedule) (Template, error) {
	weekdays, err := s.WeekdayCodes()
	if err != nil {
		return Template{}, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "weekdays")
	}
	exceptions, err := s.ExceptionDateList()
	if err != nil {
		return Template{}, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "exception dates")
	}

	id := s.ID
	t := Template{
		ScheduleID:     &id,
		StaffID:        s.StaffID,
		BranchID:       s.BranchID,
		TimeZone:       s.TimeZone,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Frequency:      s.Frequency,
		Interval:       s.Interval,
		Weekdays:       weekdays,
		AnchorDate:     s.AnchorDate,
		ExceptionDates: exceptions,
	}
	if s.UntilDate != nil {
		t.Until = *s.UntilDate
	}
	if s.Count != nil {
		t.Count = *s.Count
	}
	return t, nil
}

type Expander struct {
	horizonDays int
}

func NewExpander(horizonDays int) *Expander {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Expander{horizonDays: horizonDays}
}

// провалидированный шаблон
type rule struct {
	loc        *time.Location
	start, end timeslot.LocalTime
	freq       model.RecurrenceFrequency
	interval   int
	weekdays   map[time.Weekday]struct{}
	anchor     timeslot.LocalDate
	until      *timeslot.LocalDate
	count      int
	exceptions map[timeslot.LocalDate]struct{}
}

// Expand возвращает смены шаблона. Любая ошибка в шаблоне отменяет всю
// развёртку (apperr.KindInvalidScheduleDefinition).
func (e *Expander) Expand(t Template) ([]model.ShiftEvent, error) {
	r, err := compile(t)
	if err != nil {
		return nil, err
	}

	dates := e.candidates(r)

	events := make([]model.ShiftEvent, 0, len(dates)+1)
	if t.IncludeBaseMarker {
		events = append(events, r.materialize(t, r.anchor, true))
	}
	for _, d := range dates {
		if _, skip := r.exceptions[d]; skip {
			continue
		}
		events = append(events, r.materialize(t, d, false))
	}
	return events, nil
}

// candidates — даты повторения до фильтрации исключений, без дублей.
func (e *Expander) candidates(r rule) []timeslot.LocalDate {
	last := r.anchor.AddDays(e.horizonDays - 1)
	switch {
	case r.until != nil:
		last = *r.until
	case r.count > 0:
		last = r.anchor.AddDays(maxWindowDays)
	}
	if last.Before(r.anchor) {
		return nil
	}

	weekStart := r.anchor.AddDays(-mondayOffset(r.anchor.Weekday()))
	seen := make(map[timeslot.LocalDate]struct{})
	var out []timeslot.LocalDate

	for d := r.anchor; !d.After(last); d = d.AddDays(1) {
		if r.count > 0 && len(out) >= r.count {
			break
		}
		if !r.matches(d, weekStart) {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func (r rule) matches(d, weekStart timeslot.LocalDate) bool {
	switch r.freq {
	case model.FrequencyDaily:
		return r.anchor.DaysUntil(d)%r.interval == 0
	default:
		if _, ok := r.weekdays[d.Weekday()]; !ok {
			return false
		}
		week := weekStart.DaysUntil(d) / 7
		return week%r.interval == 0
	}
}

func (r rule) materialize(t Template, d timeslot.LocalDate, base bool) model.ShiftEvent {
	return model.ShiftEvent{
		ScheduleID:     t.ScheduleID,
		StaffID:        t.StaffID,
		BranchID:       t.BranchID,
		StartsAt:       d.At(r.start, r.loc),
		EndsAt:         d.At(r.end, r.loc),
		Kind:           model.EventKindShift,
		Status:         model.ShiftStatusConfirmed,
		IsBaseTemplate: base,
	}
}

func compile(t Template) (rule, error) {
	var r rule

	if t.StaffID == uuid.Nil {
		return r, apperr.InvalidSchedule("staff id is required")
	}

	loc, err := timeslot.LoadLocation(t.TimeZone)
	if err != nil {
		return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "time zone")
	}
	r.loc = loc

	if r.start, err = timeslot.ParseLocalTime(t.StartTime); err != nil {
		return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "start time")
	}
	if r.end, err = timeslot.ParseLocalTime(t.EndTime); err != nil {
		return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "end time")
	}
	if r.end.Minutes() <= r.start.Minutes() {
		return r, apperr.InvalidSchedule("end time %s must be after start time %s", r.end, r.start)
	}

	switch t.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly:
		r.freq = t.Frequency
	default:
		return r, apperr.InvalidSchedule("unsupported frequency %q", t.Frequency)
	}

	if t.Interval <= 0 {
		return r, apperr.InvalidSchedule("interval must be positive, got %d", t.Interval)
	}
	r.interval = t.Interval

	if t.Count < 0 {
		return r, apperr.InvalidSchedule("count must not be negative, got %d", t.Count)
	}
	r.count = t.Count

	if r.anchor, err = timeslot.ParseLocalDate(t.AnchorDate); err != nil {
		return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "anchor date")
	}
	if strings.TrimSpace(t.Until) != "" {
		until, err := timeslot.ParseLocalDate(t.Until)
		if err != nil {
			return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "until")
		}
		r.until = &until
	}

	r.weekdays = make(map[time.Weekday]struct{})
	for _, code := range t.Weekdays {
		wd, ok := ParseWeekday(code)
		if !ok {
			return r, apperr.InvalidSchedule("unknown weekday %q", code)
		}
		r.weekdays[wd] = struct{}{}
	}
	if len(r.weekdays) == 0 {
		r.weekdays[r.anchor.Weekday()] = struct{}{}
	}

	r.exceptions = make(map[timeslot.LocalDate]struct{}, len(t.ExceptionDates))
	for _, raw := range t.ExceptionDates {
		d, err := timeslot.ParseLocalDate(raw)
		if err != nil {
			return r, apperr.Wrap(apperr.KindInvalidScheduleDefinition, err, "exception date")
		}
		r.exceptions[d] = struct{}{}
	}

	return r, nil
}

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// ParseWeekday понимает коды RFC 5545 ("MO") и полные названия ("monday").
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if wd, ok := weekdayCodes[s]; ok {
		return wd, true
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.ToUpper(wd.String()) == s {
			return wd, true
		}
	}
	return 0, false
}

// WeekdayCode обратна ParseWeekday.
func WeekdayCode(wd time.Weekday) string {
	for code, d := range weekdayCodes {
		if d == wd {
			return code
		}
	}
	return ""
}

func mondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
