package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Telegraph backend.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Email     EmailConfig     `mapstructure:"email"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// QueueConfig tunes the retry queue and its consumer pool.
type QueueConfig struct {
	Name              string        `mapstructure:"name"`
	DeadLetter        string        `mapstructure:"dead_letter"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxReceive        int           `mapstructure:"max_receive"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Workers           int           `mapstructure:"workers"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChatConfig defines the chat webhook target.
type ChatConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures the dashboard API key and the push handshake secret.
type AuthConfig struct {
	APIKey          string `mapstructure:"api_key"`
	HandshakeSecret string `mapstructure:"handshake_secret"`
}

// RetentionConfig schedules background pruning of expired data.
type RetentionConfig struct {
	LogSchedule string        `mapstructure:"log_schedule"`
	DLQSchedule string        `mapstructure:"dlq_schedule"`
	DLQMaxAge   time.Duration `mapstructure:"dlq_max_age"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TELEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/telegraph.sqlite")

	v.SetDefault("queue.name", "notification-requests")
	v.SetDefault("queue.dead_letter", "notification-requests-dlq")
	v.SetDefault("queue.visibility_timeout", "30s")
	v.SetDefault("queue.max_receive", 3)
	v.SetDefault("queue.poll_interval", "250ms")
	v.SetDefault("queue.workers", 2)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("chat.webhook_url", "")
	v.SetDefault("chat.timeout", "10s")

	v.SetDefault("retention.log_schedule", "@daily")
	v.SetDefault("retention.dlq_schedule", "@daily")
	v.SetDefault("retention.dlq_max_age", "336h") // 14 days
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
