package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	// postgres | sqlite
	Driver string

	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifeTime int // минут

	SQLitePath string
}

func setDBDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "postgres")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "clinic")
	v.SetDefault("DB_PASSWORD", "clinic")
	v.SetDefault("DB_NAME", "clinic_scheduling")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MIN", 30)
	v.SetDefault("SQLITE_PATH", "clinic.db")
}

func loadDBConfig(v *viper.Viper) (DBConfig, error) {
	cfg := DBConfig{
		Driver:          v.GetString("DB_DRIVER"),
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSLMODE"),
		TimeZone:        v.GetString("DB_TIMEZONE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifeTime: v.GetInt("DB_CONN_MAX_LIFETIME_MIN"),
		SQLitePath:      v.GetString("SQLITE_PATH"),
	}

	switch cfg.Driver {
	case "postgres":
		// минимальная валидация
		if cfg.Host == "" || cfg.User == "" || cfg.Name == "" {
			return DBConfig{}, fmt.Errorf("invalid DB config: host/user/name must not be empty")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return DBConfig{}, fmt.Errorf("invalid DB config: SQLITE_PATH must not be empty")
		}
	default:
		return DBConfig{}, fmt.Errorf("invalid DB config: unknown driver %q", cfg.Driver)
	}

	return cfg, nil
}

// DSN собирает строку подключения для postgres.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		c.Host,
		c.User,
		c.Password,
		c.Name,
		c.Port,
		c.SSLMode,
		c.TimeZone,
	)
}

func (c DBConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeTime) * time.Minute
}
