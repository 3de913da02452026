// Package config loads the attendance server configuration.
//
// Precedence: environment variables (ATTENDANCE_ prefix, "." replaced by
// "_") > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/attendance-engine/attendance"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig              `mapstructure:"server"`
	Database DatabaseConfig            `mapstructure:"db"`
	Schedule attendance.ScheduleConfig `mapstructure:"schedule"`
	Payroll  PayrollConfig             `mapstructure:"payroll"`
	Auth     AuthConfig                `mapstructure:"auth"`
	Log      LogConfig                 `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects and configures the store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"` // sqlite

	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // minutes
	LogSQL          bool   `mapstructure:"log_sql"`
}

// DSN builds the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// PayrollConfig holds the rates used to price minutes. A real deployment
// reads these from the settings store; these are the fallbacks.
type PayrollConfig struct {
	HourlyRate         string `mapstructure:"hourly_rate"`
	OvertimeMultiplier string `mapstructure:"overtime_multiplier"`
	Currency           string `mapstructure:"currency"`
}

// AuthConfig configures actor resolution. An empty JWTSecret disables
// token checks and actors come from the X-Actor-ID header.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Load reads configuration from path (or ./config.yaml, ./config/config.yaml)
// and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "attendance.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "attendance")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.log_sql", false)

	d := attendance.DefaultScheduleConfig()
	v.SetDefault("schedule.am_in", d.AmIn)
	v.SetDefault("schedule.am_out", d.AmOut)
	v.SetDefault("schedule.pm_in", d.PmIn)
	v.SetDefault("schedule.pm_out", d.PmOut)
	v.SetDefault("schedule.ot_start", d.OtStart)
	v.SetDefault("schedule.ot_end", d.OtEnd)
	v.SetDefault("schedule.standard_minutes_per_day", d.StandardMinutesPerDay)
	v.SetDefault("schedule.grace_minutes", d.GraceMinutes)
	v.SetDefault("schedule.round_to_minutes", d.RoundToMinutes)
	v.SetDefault("schedule.timezone", d.Timezone)

	v.SetDefault("payroll.hourly_rate", "0")
	v.SetDefault("payroll.overtime_multiplier", "1.25")
	v.SetDefault("payroll.currency", "PHP")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("config: db.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("config: db.host and db.name are required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown db.driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 16 characters")
	}
	if _, err := attendance.ParseSchedule(c.Schedule); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
