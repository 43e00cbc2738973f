// Package app собирает зависимости сервиса из подключения к БД.
package app

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/Leganyst/clinic-scheduling/internal/audit"
	"github.com/Leganyst/clinic-scheduling/internal/billing"
	"github.com/Leganyst/clinic-scheduling/internal/calendar"
	"github.com/Leganyst/clinic-scheduling/internal/recurrence"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
	"github.com/Leganyst/clinic-scheduling/internal/service"
	"github.com/Leganyst/clinic-scheduling/internal/signals"
)

type Options struct {
	// Часовой пояс клиники; по умолчанию UTC.
	Location    *time.Location
	HorizonDays int
	Gateway     billing.PaymentGateway
	Dedupe      signals.Deduper
	Log         zerolog.Logger
	Now         func() time.Time
}

// App — собранный граф сервисов.
type App struct {
	DB *gorm.DB

	Patients *repository.GormPatientRepository
	Staff    *repository.GormStaffRepository
	Orders   *repository.GormOrderRepository

	Lifecycle *service.Lifecycle
	Schedules *service.ScheduleService
	Calendar  *calendar.Synchronizer
	Lister    *calendar.Lister
	Free      *service.Availability
	Billing   *billing.Service
	Audit     *audit.Recorder
	Signals   *signals.Adapter
}

func New(gdb *gorm.DB, opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// Репозитории (реализации на GORM).
	tx := repository.NewGormTransactor(gdb)
	appts := repository.NewGormAppointmentRepository(gdb)
	shifts := repository.NewGormShiftEventRepository(gdb)
	schedules := repository.NewGormScheduleRepository(gdb)
	events := repository.NewGormCalendarEventRepository(gdb)

	a := &App{
		DB:       gdb,
		Patients: repository.NewGormPatientRepository(gdb),
		Staff:    repository.NewGormStaffRepository(gdb),
		Orders:   repository.NewGormOrderRepository(gdb),
	}

	// Коллабораторы жизненного цикла.
	a.Audit = audit.NewRecorder(repository.NewGormAuditRepository(gdb), opts.Log)
	a.Billing = billing.NewService(a.Orders, opts.Gateway, opts.Log)
	a.Calendar = calendar.NewSynchronizer(tx, events, appts, opts.Log)
	a.Lister = calendar.NewLister(events, shifts)
	a.Free = service.NewAvailability(shifts, appts, opts.Location)

	a.Lifecycle = service.NewLifecycle(service.LifecycleDeps{
		Tx:       tx,
		Appts:    appts,
		Patients: a.Patients,
		Matcher:  service.NewShiftMatcher(shifts),
		Detector: service.NewConflictDetector(appts),
		Calendar: a.Calendar,
		Billing:  a.Billing,
		Audit:    a.Audit,
		Location: opts.Location,
		Log:      opts.Log,
		Now:      opts.Now,
	})
	a.Schedules = service.NewScheduleService(service.ScheduleDeps{
		Tx:        tx,
		Schedules: schedules,
		Shifts:    shifts,
		Expander:  recurrence.NewExpander(opts.HorizonDays),
		Audit:     a.Audit,
		Log:       opts.Log,
		Now:       opts.Now,
	})

	// Внешние сигналы.
	a.Signals = signals.NewAdapter(a.Lifecycle, a.Billing, opts.Dedupe, opts.Log)
	return a
}
