package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env string

	GRPCAddr string
	HTTPAddr string

	// Часовой пояс клиники для выравнивания по четверти часа.
	ClinicTimeZone string

	// Горизонт генерации смен без until/count.
	ShiftHorizonDays int

	DB DBConfig

	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaOrderTopic string

	RedisURL       string
	SignalDedupTTL time.Duration

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration

	JWTSecret string

	OTelEnabled       bool
	OTelEndpoint      string
	OTelSamplingRatio float64
}

// Load читает конфигурацию из окружения и необязательного .env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// .env может отсутствовать
	_ = v.ReadInConfig()

	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	dbCfg, err := loadDBConfig(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                    v.GetString("ENV"),
		GRPCAddr:               v.GetString("GRPC_ADDR"),
		HTTPAddr:               v.GetString("HTTP_ADDR"),
		ClinicTimeZone:         v.GetString("CLINIC_TIMEZONE"),
		ShiftHorizonDays:       v.GetInt("SHIFT_HORIZON_DAYS"),
		DB:                     dbCfg,
		KafkaBrokers:           splitList(v.GetString("KAFKA_BROKERS")),
		KafkaGroupID:           v.GetString("KAFKA_GROUP_ID"),
		KafkaOrderTopic:        v.GetString("KAFKA_ORDER_TOPIC"),
		RedisURL:               v.GetString("REDIS_URL"),
		SignalDedupTTL:         v.GetDuration("SIGNAL_DEDUPE_TTL"),
		StripeSecretKey:        v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:    v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeWebhookTolerance: v.GetDuration("STRIPE_WEBHOOK_TOLERANCE"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		OTelEnabled:            v.GetBool("OTEL_ENABLED"),
		OTelEndpoint:           v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSamplingRatio:      v.GetFloat64("OTEL_SAMPLING_RATIO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	setDBDefaults(v)
	v.SetDefault("ENV", "development")
	v.SetDefault("GRPC_ADDR", ":50051")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CLINIC_TIMEZONE", "Europe/Moscow")
	v.SetDefault("SHIFT_HORIZON_DAYS", 90)
	v.SetDefault("KAFKA_GROUP_ID", "clinic-scheduling")
	v.SetDefault("KAFKA_ORDER_TOPIC", "orders.events")
	v.SetDefault("SIGNAL_DEDUPE_TTL", "24h")
	v.SetDefault("STRIPE_WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)
}

// Validate проверяет значения, без которых сервис не стартует.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.ClinicTimeZone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimeZone, err)
	}
	if c.ShiftHorizonDays <= 0 {
		return fmt.Errorf("SHIFT_HORIZON_DAYS must be positive, got %d", c.ShiftHorizonDays)
	}
	if c.OTelSamplingRatio < 0 || c.OTelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %v", c.OTelSamplingRatio)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
