package timeslot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Шаг сетки записи в минутах.
const QuarterHour = 15

var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrInvalidLocalTime = errors.New("invalid local time")
	ErrInvalidLocalDate = errors.New("invalid local date")
	ErrSlotDuration     = errors.New("slot duration must be positive")
)

// TimeRange представляет временной интервал [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange создаёт интервал и проверяет, что Start < End.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

// Overlaps: полуоткрытое пересечение: a.Start < b.End && a.End > b.Start.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}

// Contains: r.Start <= other.Start && r.End >= other.End.
func (r TimeRange) Contains(other TimeRange) bool {
	return !r.Start.After(other.Start) && !r.End.Before(other.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// UTC возвращает тот же интервал с границами в UTC (так мы храним время в БД).
func (r TimeRange) UTC() TimeRange {
	return TimeRange{Start: r.Start.UTC(), End: r.End.UTC()}
}

// HasOverlap возвращает все интервалы из existing, пересекающиеся с newRange.
func HasOverlap(newRange TimeRange, existing []TimeRange) (bool, []TimeRange) {
	var conflicts []TimeRange
	for _, tr := range existing {
		if newRange.Overlaps(tr) {
			conflicts = append(conflicts, tr)
		}
	}
	return len(conflicts) > 0, conflicts
}

// SplitToSlots разбивает интервал на слоты длительности slot. Начало
// сдвигается вперёд до ближайшей четверти часа по часам loc,
// хвост короче слота отбрасывается.
func SplitToSlots(tr TimeRange, slot time.Duration, loc *time.Location) ([]TimeRange, error) {
	if slot <= 0 {
		return nil, ErrSlotDuration
	}
	if !tr.End.After(tr.Start) {
		return nil, nil
	}

	start := tr.Start
	local := start.In(loc)
	rem := time.Duration(local.Minute()%QuarterHour)*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	if rem > 0 {
		start = start.Add(QuarterHour*time.Minute - rem)
	}

	var slots []TimeRange
	for cur := start; !cur.Add(slot).After(tr.End); cur = cur.Add(slot) {
		slots = append(slots, TimeRange{Start: cur, End: cur.Add(slot)})
	}
	return slots, nil
}

// LoadLocation оборачивает time.LoadLocation в ErrInvalidTimezone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// ToLocal переводит момент времени в настенное время клиники.
func ToLocal(instant time.Time, loc *time.Location) time.Time {
	return instant.In(loc)
}

// ToInstant трактует настенные часы wallClock (его собственная зона игнорируется)
// как время в loc и возвращает абсолютный момент в UTC.
// Несуществующее время при переходе на летнее время сдвигается вперёд
// на величину перехода (02:30 в разрыве 02:00-03:00 становится 03:30).
func ToInstant(wallClock time.Time, loc *time.Location) time.Time {
	y, m, d := wallClock.Date()
	return wallInstant(y, m, d, wallClock.Hour(), wallClock.Minute(), wallClock.Second(), wallClock.Nanosecond(), loc)
}

// wallInstant — time.Date с поправкой на разрыв: time.Date берёт смещение
// до перехода и уводит время назад.
func wallInstant(y int, m time.Month, d, hh, mm, ss, ns int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, hh, mm, ss, ns, loc)
	if t.Hour() == hh && t.Minute() == mm {
		return t.UTC()
	}
	want := time.Date(y, m, d, hh, mm, ss, ns, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return t.Add(want.Sub(got)).UTC()
}

// IsQuarterHourAligned: минуты кратны 15, секунды и доли секунды равны нулю.
func IsQuarterHourAligned(wallClock time.Time) bool {
	return wallClock.Minute()%QuarterHour == 0 && wallClock.Second() == 0 && wallClock.Nanosecond() == 0
}

// DurationMinutes возвращает длительность интервала в целых минутах.
func DurationMinutes(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}

// StartOfLocalDay — полночь локального дня, в который попадает instant.
func StartOfLocalDay(instant time.Time, loc *time.Location) time.Time {
	y, m, d := instant.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfLocalDay — полночь следующего локального дня (исключающая граница).
func EndOfLocalDay(instant time.Time, loc *time.Location) time.Time {
	y, m, d := instant.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// LocalTime — время суток без даты и зоны.
type LocalTime struct {
	Hour   int
	Minute int
}

// ParseLocalTime разбирает "HH:MM" или "HH:MM:SS" (секунды должны быть нулевыми).
func ParseLocalTime(s string) (LocalTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return LocalTime{}, fmt.Errorf("%w: %q has seconds", ErrInvalidLocalTime, s)
		}
		return LocalTime{Hour: t.Hour(), Minute: t.Minute()}, nil
	}
	return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
}

func (lt LocalTime) Minutes() int {
	return lt.Hour*60 + lt.Minute
}

func (lt LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d", lt.Hour, lt.Minute)
}

// LocalDate — календарная дата без времени.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

const localDateLayout = "2006-01-02"

// ParseLocalDate разбирает дату в формате YYYY-MM-DD.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(localDateLayout, strings.TrimSpace(s))
	if err != nil {
		return LocalDate{}, fmt.Errorf("%w: %q", ErrInvalidLocalDate, s)
	}
	return DateOf(t), nil
}

// DateOf берёт календарную дату из t в его собственной зоне.
func DateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// midnightUTC используется только для арифметики по датам.
func (d LocalDate) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d LocalDate) AddDays(n int) LocalDate {
	return DateOf(d.midnightUTC().AddDate(0, 0, n))
}

func (d LocalDate) Weekday() time.Weekday {
	return d.midnightUTC().Weekday()
}

func (d LocalDate) Before(other LocalDate) bool {
	return d.midnightUTC().Before(other.midnightUTC())
}

func (d LocalDate) After(other LocalDate) bool {
	return d.midnightUTC().After(other.midnightUTC())
}

// DaysUntil: число дней от d до other (может быть отрицательным).
func (d LocalDate) DaysUntil(other LocalDate) int {
	return int(other.midnightUTC().Sub(d.midnightUTC()).Hours() / 24)
}

// At собирает абсолютный момент из даты, времени суток и зоны.
func (d LocalDate) At(lt LocalTime, loc *time.Location) time.Time {
	return wallInstant(d.Year, d.Month, d.Day, lt.Hour, lt.Minute, 0, 0, loc)
}
