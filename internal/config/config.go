package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix: every key can be overridden as WHITEBOARD_<SECTION>_<KEY>
const EnvPrefix = "WHITEBOARD"

type Config struct {
	Addr           string         `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	MaxUploadBytes int64          `mapstructure:"max_upload_bytes" validate:"min=1024"`
	Log            LogConfig      `mapstructure:"log"`
	Store          StoreConfig    `mapstructure:"store"`
	Limits         LimitsConfig   `mapstructure:"limits"`
	Rooms          RoomsConfig    `mapstructure:"rooms"`
	Sessions       SessionsConfig `mapstructure:"sessions"`
	IP             IPConfig       `mapstructure:"ip"`
	Autosave       AutosaveConfig `mapstructure:"autosave"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite3 postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
}

type LimitsConfig struct {
	MaxRoomSize       int     `mapstructure:"max_room_size" validate:"min=1"`
	MaxElements       int     `mapstructure:"max_elements" validate:"min=1"`
	MaxMessageSize    int     `mapstructure:"max_message_size" validate:"min=1024"`
	MaxRooms          int     `mapstructure:"max_rooms" validate:"min=1"`
	MaxObjectDepth    int     `mapstructure:"max_object_depth" validate:"min=1"`
	MaxObjectElements int     `mapstructure:"max_object_elements" validate:"min=1"`
	MaxBatchSize      int     `mapstructure:"max_batch_size" validate:"min=1"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second" validate:"gt=0"`
	BurstSize         int     `mapstructure:"burst_size" validate:"min=1"`
	CursorPerSecond   float64 `mapstructure:"cursor_per_second" validate:"gt=0"`
	CursorBurst       int     `mapstructure:"cursor_burst" validate:"min=1"`
}

type RoomsConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl" validate:"gt=0"`
	MaxAge          time.Duration `mapstructure:"max_age" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
}

type SessionsConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// IPConfig: new websocket connections allowed per client IP
type IPConfig struct {
	Every   time.Duration `mapstructure:"every" validate:"gt=0"`
	Burst   int           `mapstructure:"burst" validate:"min=1"`
	IdleTTL time.Duration `mapstructure:"idle_ttl" validate:"gt=0"`
}

type AutosaveConfig struct {
	Delay   time.Duration `mapstructure:"delay" validate:"gt=0"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("max_upload_bytes", 5*1024*1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "whiteboard.sqlite3")

	v.SetDefault("limits.max_room_size", 50)
	v.SetDefault("limits.max_elements", 10000)
	v.SetDefault("limits.max_message_size", 512*1024)
	v.SetDefault("limits.max_rooms", 1000)
	v.SetDefault("limits.max_object_depth", 10)
	v.SetDefault("limits.max_object_elements", 1000)
	v.SetDefault("limits.max_batch_size", 500)
	v.SetDefault("limits.messages_per_second", 30.0)
	v.SetDefault("limits.burst_size", 60)
	v.SetDefault("limits.cursor_per_second", 60.0)
	v.SetDefault("limits.cursor_burst", 60)

	v.SetDefault("rooms.idle_ttl", time.Hour)
	v.SetDefault("rooms.max_age", 24*time.Hour)
	v.SetDefault("rooms.cleanup_interval", 15*time.Minute)

	v.SetDefault("sessions.ttl", time.Hour)

	v.SetDefault("ip.every", time.Second)
	v.SetDefault("ip.burst", 10)
	v.SetDefault("ip.idle_ttl", 10*time.Minute)

	v.SetDefault("autosave.delay", time.Second)
	v.SetDefault("autosave.timeout", 10*time.Second)
}

// Load reads defaults, then the optional dotenv file, then the environment.
// A missing dotenv file is not an error.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if err := godotenv.Load(dotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config.godotenv(%s): %w", dotEnvPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.unmarshal: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config.validate: %w", err)
	}
	return &cfg, nil
}

// MiddlewareLimits converts the limits section for the middleware package
func (c *Config) MiddlewareLimits() *middleware.Limits {
	l := c.Limits
	return &middleware.Limits{
		MaxRoomSize:       l.MaxRoomSize,
		MaxElements:       l.MaxElements,
		MaxMessageSize:    l.MaxMessageSize,
		MaxRooms:          l.MaxRooms,
		MaxObjectDepth:    l.MaxObjectDepth,
		MaxObjectElements: l.MaxObjectElements,
		MaxBatchSize:      l.MaxBatchSize,
		MessagesPerSecond: l.MessagesPerSecond,
		BurstSize:         l.BurstSize,
		CursorPerSecond:   l.CursorPerSecond,
		CursorBurst:       l.CursorBurst,
	}
}
