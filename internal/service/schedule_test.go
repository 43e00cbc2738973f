package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/db/dbtest"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/recurrence"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

func newScheduleService(t *testing.T) (*ScheduleService, *ShiftMatcher, *fakeAudit) {
	t.Helper()
	gdb := dbtest.Open(t)
	shifts := repository.NewGormShiftEventRepository(gdb)
	audit := &fakeAudit{}
	svc := NewScheduleService(ScheduleDeps{
		Tx:        repository.NewGormTransactor(gdb),
		Schedules: repository.NewGormScheduleRepository(gdb),
		Shifts:    shifts,
		Expander:  recurrence.NewExpander(recurrence.DefaultHorizonDays),
		Audit:     audit,
		Log:       zerolog.Nop(),
	})
	return svc, NewShiftMatcher(shifts), audit
}

func weeklyInput(staff uuid.UUID) ScheduleInput {
	return ScheduleInput{
		StaffID:        staff,
		BranchID:       uuid.New(),
		TimeZone:       "Europe/Moscow",
		StartTime:      "09:00",
		EndTime:        "13:00",
		Frequency:      model.FrequencyWeekly,
		Weekdays:       []string{"MO", "WE"},
		AnchorDate:     "2025-03-03",
		Count:          4,
		ExceptionDates: []string{"2025-03-05"},
	}
}

func TestGenerateShifts(t *testing.T) {
	svc, matcher, audit := newScheduleService(t)
	ctx := context.Background()
	staff := uuid.New()

	sched, err := svc.CreateSchedule(ctx, reception, weeklyInput(staff))
	require.NoError(t, err)
	assert.Equal(t, 1, sched.Interval)

	shifts, err := svc.GenerateShifts(ctx, reception, sched.ID, false)
	require.NoError(t, err)
	// count=4 даёт 3, 5, 10, 12 марта; 5-е исключено
	require.Len(t, shifts, 3)

	// 09:00 по Москве = 06:00 UTC
	first := shifts[0]
	assert.True(t, time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC).Equal(first.StartsAt))
	assert.True(t, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC).Equal(first.EndsAt))
	assert.Equal(t, sched.ID, *first.ScheduleID)

	// повторная генерация заменяет смены, а не дублирует
	again, err := svc.GenerateShifts(ctx, reception, sched.ID, false)
	require.NoError(t, err)
	assert.Len(t, again, 3)

	listed, err := svc.ListShifts(ctx, staff, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	_, found, err := matcher.FindContainingShift(ctx, staff, first.StartsAt.Add(time.Hour), first.StartsAt.Add(time.Hour+AppointmentDuration))
	require.NoError(t, err)
	assert.True(t, found)

	assert.Equal(t, []model.AuditAction{model.ActionCreated, model.ActionGenerated, model.ActionGenerated}, audit.of(sched.ID))
}

func TestCreateScheduleStoresWeekdayCodes(t *testing.T) {
	svc, _, _ := newScheduleService(t)
	in := weeklyInput(uuid.New())
	in.Weekdays = []string{"monday", " we "}

	sched, err := svc.CreateSchedule(context.Background(), reception, in)
	require.NoError(t, err)
	codes, err := sched.WeekdayCodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"MO", "WE"}, codes)
}

func TestCreateScheduleRejectsBadDefinition(t *testing.T) {
	svc, _, _ := newScheduleService(t)
	ctx := context.Background()

	cases := map[string]func(in *ScheduleInput){
		"end before start": func(in *ScheduleInput) { in.EndTime = "08:00" },
		"unknown weekday":  func(in *ScheduleInput) { in.Weekdays = []string{"XX"} },
		"bad time zone":    func(in *ScheduleInput) { in.TimeZone = "Mars/Olympus" },
		"bad anchor":       func(in *ScheduleInput) { in.AnchorDate = "03.03.2025" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := weeklyInput(uuid.New())
			mutate(&in)
			_, err := svc.CreateSchedule(ctx, reception, in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalidScheduleDefinition, apperr.KindOf(err))
		})
	}
}

func TestDeactivateAndReactivateShift(t *testing.T) {
	svc, matcher, _ := newScheduleService(t)
	ctx := context.Background()
	staff := uuid.New()

	sched, err := svc.CreateSchedule(ctx, reception, weeklyInput(staff))
	require.NoError(t, err)
	shifts, err := svc.GenerateShifts(ctx, reception, sched.ID, false)
	require.NoError(t, err)
	shift := shifts[0]
	start := shift.StartsAt
	end := start.Add(AppointmentDuration)

	require.NoError(t, svc.DeactivateShift(ctx, reception, shift.ID))
	_, found, err := matcher.FindContainingShift(ctx, staff, start, end)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.ReactivateShift(ctx, reception, shift.ID))
	_, found, err = matcher.FindContainingShift(ctx, staff, start, end)
	require.NoError(t, err)
	assert.True(t, found)

	err = svc.DeactivateShift(ctx, reception, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRemoveSchedule(t *testing.T) {
	svc, matcher, _ := newScheduleService(t)
	ctx := context.Background()
	staff := uuid.New()

	sched, err := svc.CreateSchedule(ctx, reception, weeklyInput(staff))
	require.NoError(t, err)
	shifts, err := svc.GenerateShifts(ctx, reception, sched.ID, false)
	require.NoError(t, err)

	removed, err := svc.RemoveSchedule(ctx, reception, sched.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	_, found, err := matcher.FindContainingShift(ctx, staff, shifts[0].StartsAt, shifts[0].StartsAt.Add(AppointmentDuration))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = svc.GenerateShifts(ctx, reception, sched.ID, false)
	assert.Equal(t, apperr.KindInvalidScheduleDefinition, apperr.KindOf(err))

	_, err = svc.RemoveSchedule(ctx, reception, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
