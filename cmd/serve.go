package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	schedulingv1 "github.com/Leganyst/clinic-scheduling/internal/api/scheduling/v1"
	"github.com/Leganyst/clinic-scheduling/internal/app"
	"github.com/Leganyst/clinic-scheduling/internal/billing"
	"github.com/Leganyst/clinic-scheduling/internal/config"
	"github.com/Leganyst/clinic-scheduling/internal/db"
	"github.com/Leganyst/clinic-scheduling/internal/httpapi"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/signals"
	"github.com/Leganyst/clinic-scheduling/internal/telemetry"
	"github.com/Leganyst/clinic-scheduling/internal/timeslot"
)

const serviceName = "clinic-scheduling"

// bootstrap загружает конфиг, логгер и БД.
func bootstrap() (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	log := telemetry.NewLogger(serviceName, cfg.Env)

	gormDB, err := db.NewGormDB(cfg.DB)
	if err != nil {
		return nil, log, nil, fmt.Errorf("init db: %w", err)
	}
	return cfg, log, gormDB, nil
}

func buildApp(cfg *config.Config, log zerolog.Logger, gormDB *gorm.DB, dedupe signals.Deduper) (*app.App, error) {
	loc, err := timeslot.LoadLocation(cfg.ClinicTimeZone)
	if err != nil {
		return nil, err
	}
	var gateway billing.PaymentGateway = billing.NopGateway{}
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, nil)
	}
	return app.New(gormDB, app.Options{
		Location:    loc,
		HorizonDays: cfg.ShiftHorizonDays,
		Gateway:     gateway,
		Dedupe:      dedupe,
		Log:         log,
	}), nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции моделей",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, gormDB, err := bootstrap()
			if err != nil {
				return err
			}
			if err := model.AutoMigrate(gormDB); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func expandScheduleCmd() *cobra.Command {
	var (
		scheduleID  string
		includeBase bool
	)
	cmd := &cobra.Command{
		Use:   "expand-schedule",
		Short: "Сгенерировать смены по сохранённому шаблону",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(scheduleID)
			if err != nil {
				return fmt.Errorf("invalid --schedule-id: %w", err)
			}
			cfg, log, gormDB, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, log, gormDB, nil)
			if err != nil {
				return err
			}
			shifts, err := a.Schedules.GenerateShifts(cmd.Context(), identity.System, id, includeBase)
			if err != nil {
				return err
			}
			log.Info().Str("schedule_id", id.String()).Int("shifts", len(shifts)).Msg("schedule expanded")
			return nil
		},
	}
	cmd.Flags().StringVar(&scheduleID, "schedule-id", "", "ID шаблона смен")
	cmd.Flags().BoolVar(&includeBase, "include-base", false, "добавить маркер базового шаблона")
	_ = cmd.MarkFlagRequired("schedule-id")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить gRPC, HTTP и потребителя Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// 1. Конфиг, логгер, БД.
	cfg, log, gormDB, err := bootstrap()
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("sql DB: %w", err)
	}
	defer sqlDB.Close()

	// 2. Миграции моделей.
	if err := model.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 3. Трассировка.
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 4. Дедупликация сигналов: Redis или память процесса.
	checks := map[string]httpapi.ReadyCheck{"db": sqlDB.PingContext}
	var dedupe signals.Deduper = signals.NewMemoryDeduper(cfg.SignalDedupTTL)
	if cfg.RedisURL != "" {
		rd, err := signals.NewRedisDeduperFromURL(ctx, cfg.RedisURL, cfg.SignalDedupTTL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rd.Close()
		dedupe = rd
		checks["redis"] = rd.Ping
	}

	// 5. Сервисы.
	a, err := buildApp(cfg, log, gormDB, dedupe)
	if err != nil {
		return err
	}

	// 6. gRPC-сервер.
	tokens := identity.NewTokens(cfg.JWTSecret, serviceName)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(
		identity.UnaryServerInterceptor(tokens, !cfg.IsProduction(), log),
	))
	schedulingv1.RegisterSchedulingServer(grpcServer, schedulingv1.NewServer(a.Lifecycle, a.Schedules, a.Lister, a.Free, log))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	// 7. HTTP: webhook и проверки.
	var stripeHook *httpapi.StripeWebhook
	if cfg.StripeWebhookSecret != "" {
		parser := signals.NewStripeParser(cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance)
		stripeHook = httpapi.NewStripeWebhook(parser, a.Signals, log)
	}
	if len(cfg.KafkaBrokers) > 0 {
		checks["kafka"] = kafkaReady(cfg.KafkaBrokers[0])
	}
	e := httpapi.New(httpapi.Deps{Stripe: stripeHook, Checks: checks, Log: log})

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	// 8. Потребитель заказов.
	if len(cfg.KafkaBrokers) > 0 {
		consumer := signals.NewConsumer(signals.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.KafkaOrderTopic,
		}, a.Signals, log)
		go consumer.Run(ctx)
		log.Info().Str("topic", cfg.KafkaOrderTopic).Msg("kafka consumer started")
	}

	// 9. Грейсфул-шатдаун по сигналу.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	return nil
}

func kafkaReady(broker string) httpapi.ReadyCheck {
	return func(ctx context.Context) error {
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
