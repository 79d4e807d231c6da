package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Reminder scheduler worker.
	SchedulerIntervalSeconds int `mapstructure:"SCHEDULER_INTERVAL_SECONDS"`
	SchedulerPageSize        int `mapstructure:"SCHEDULER_PAGE_SIZE"`
	MedicationWindowMinutes  int `mapstructure:"MEDICATION_WINDOW_MINUTES"`

	// In-session client notification trigger.
	TriggerIntervalSeconds int `mapstructure:"TRIGGER_INTERVAL_SECONDS"`

	// Typing presence.
	TypingDebounceMillis int `mapstructure:"TYPING_DEBOUNCE_MILLIS"`
	TypingTTLMillis      int `mapstructure:"TYPING_TTL_MILLIS"`

	// Attachment signed URL lifetime.
	AttachmentURLTTLMinutes int `mapstructure:"ATTACHMENT_URL_TTL_MINUTES"`
}

// Safety floors. The scheduler floor keeps replicas from hammering the
// store; the trigger floor keeps the UI thread's timer budget sane.
const (
	MinSchedulerInterval = 60 * time.Second
	MinTriggerInterval   = 5 * time.Second
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SCHEDULER_INTERVAL_SECONDS", 60)
	v.SetDefault("SCHEDULER_PAGE_SIZE", 200)
	v.SetDefault("MEDICATION_WINDOW_MINUTES", 5)
	v.SetDefault("TRIGGER_INTERVAL_SECONDS", 15)
	v.SetDefault("TYPING_DEBOUNCE_MILLIS", 1500)
	v.SetDefault("TYPING_TTL_MILLIS", 2500)
	v.SetDefault("ATTACHMENT_URL_TTL_MINUTES", 15)

	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("SCHEDULER_INTERVAL_SECONDS")
	v.BindEnv("SCHEDULER_PAGE_SIZE")
	v.BindEnv("MEDICATION_WINDOW_MINUTES")
	v.BindEnv("TRIGGER_INTERVAL_SECONDS")
	v.BindEnv("TYPING_DEBOUNCE_MILLIS")
	v.BindEnv("TYPING_TTL_MILLIS")
	v.BindEnv("ATTACHMENT_URL_TTL_MINUTES")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SchedulerInterval returns the worker poll cadence, clamped to the floor.
func (c *Config) SchedulerInterval() time.Duration {
	d := time.Duration(c.SchedulerIntervalSeconds) * time.Second
	if d < MinSchedulerInterval {
		return MinSchedulerInterval
	}
	return d
}

// TriggerInterval returns the in-session check cadence, clamped to the floor.
func (c *Config) TriggerInterval() time.Duration {
	d := time.Duration(c.TriggerIntervalSeconds) * time.Second
	if d < MinTriggerInterval {
		return MinTriggerInterval
	}
	return d
}

func (c *Config) MedicationWindow() time.Duration {
	return time.Duration(c.MedicationWindowMinutes) * time.Minute
}

func (c *Config) TypingDebounce() time.Duration {
	return time.Duration(c.TypingDebounceMillis) * time.Millisecond
}

func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.TypingTTLMillis) * time.Millisecond
}

func (c *Config) AttachmentURLTTL() time.Duration {
	return time.Duration(c.AttachmentURLTTLMinutes) * time.Minute
}

// ClientSettings is the slice of config the browser session needs: the
// notification trigger runs client-side on the interval the server hands
// out here, and typing indicators use the same debounce/TTL pair the
// broadcaster enforces.
type ClientSettings struct {
	TriggerIntervalSeconds int `json:"trigger_interval_seconds"`
	TypingDebounceMillis   int `json:"typing_debounce_millis"`
	TypingTTLMillis        int `json:"typing_ttl_millis"`
}

// ClientSettings returns the session-facing settings with floors applied.
func (c *Config) ClientSettings() ClientSettings {
	return ClientSettings{
		TriggerIntervalSeconds: int(c.TriggerInterval() / time.Second),
		TypingDebounceMillis:   c.TypingDebounceMillis,
		TypingTTLMillis:        c.TypingTTLMillis,
	}
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key must be present so real authentication is enforced, and the
// typing TTL must exceed the debounce window or every indicator would expire
// between announcements.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.SchedulerPageSize <= 0 {
		return fmt.Errorf("SCHEDULER_PAGE_SIZE must be positive, got %d", c.SchedulerPageSize)
	}
	if c.MedicationWindowMinutes <= 0 {
		return fmt.Errorf("MEDICATION_WINDOW_MINUTES must be positive, got %d", c.MedicationWindowMinutes)
	}
	if c.TypingTTL() <= c.TypingDebounce() {
		return fmt.Errorf("TYPING_TTL_MILLIS (%d) must exceed TYPING_DEBOUNCE_MILLIS (%d)",
			c.TypingTTLMillis, c.TypingDebounceMillis)
	}
	return nil
}
