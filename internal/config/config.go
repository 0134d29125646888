package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HABITLINE_"

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Push     PushConfig     `koanf:"push"`
	Telegram TelegramConfig `koanf:"telegram"`
	HTTP     HTTPConfig     `koanf:"http"`
	Local    LocalConfig    `koanf:"local"`
	Session  SessionConfig  `koanf:"session"`
	Sync     SyncConfig     `koanf:"sync"`
	Log      LogConfig      `koanf:"log"`
}

type DatabaseConfig struct {
	URI      string `koanf:"uri" validate:"required"`
	MaxConns int32  `koanf:"max_conns" validate:"min=0"`
}

// RedisConfig configures the background delivery agent. An empty URL
// disables it and leaves in-process timers only.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	Origin       string        `koanf:"origin" validate:"required"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type PushConfig struct {
	Subscriber      string `koanf:"subscriber"`
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key" validate:"required_with=VAPIDPublicKey"`
	TTL             int    `koanf:"ttl" validate:"min=0"`
}

// TelegramConfig configures the foreground display. An empty token disables it.
type TelegramConfig struct {
	Token  string `koanf:"token"`
	ChatID int64  `koanf:"chat_id" validate:"required_with=Token"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type LocalConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SessionConfig names the user signed in on this device at startup.
type SessionConfig struct {
	UserID string `koanf:"user_id"`
}

type SyncConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	PollInterval     time.Duration `koanf:"poll_interval" validate:"gt=0"`
	Horizon          time.Duration `koanf:"horizon" validate:"gt=0"`
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout" validate:"gt=0"`
	SnoozeMinutes    []int         `koanf:"snooze_minutes" validate:"min=1,dive,min=1,max=1440"`
	DefaultSnooze    int           `koanf:"default_snooze" validate:"min=1,max=1440"`
	LinkBaseURL      string        `koanf:"link_base_url"`
}

type LogConfig struct {
	Level       string `koanf:"level" validate:"oneof=debug info warn error"`
	Development bool   `koanf:"development"`
}

// legacyEnv maps the plain variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"DATABASE_URI":   "database.uri",
	"TELEGRAM_TOKEN": "telegram.token",
	"REDIS_URL":      "redis.url",
}

// Load reads configuration from defaults, an optional YAML file, legacy
// environment variables and HABITLINE_ variables, in increasing priority.
// Nested keys use a double underscore: HABITLINE_SYNC__POLL_INTERVAL.
func Load(path string) (*Config, error) {
	// .env file is optional in production
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	legacy := make(map[string]any)
	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" {
			legacy[key] = v
		}
	}
	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, fmt.Errorf("load legacy env vars: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
