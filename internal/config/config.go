package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const defaultSecret = "dev-secret-change-me"

type Config struct {
	Port                string
	Env                 string
	LogLevel            string
	DatabaseDSN         string
	SecretKey           string
	SessionTTLMinutes   int
	UploadDir           string
	MaxUploadBytes      int64
	AllowedExtensions   []string
	AllowedOrigins      []string
	RoomScopedBroadcast bool
	AdminPassword       string
}

// Load reads configuration from the environment, falling back to an optional
// config.yaml and then to development defaults. A config file that exists but
// cannot be read is an error.
func Load() (Config, error) {
	return load(".", "./config")
}

func load(dirs ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DSN", "sqlite:roomchat.db")
	v.SetDefault("SECRET_KEY", defaultSecret)
	v.SetDefault("SESSION_TTL_MINUTES", 24*60)
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("ALLOWED_EXTENSIONS", "png,jpg,jpeg,gif,pdf")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("ROOM_SCOPED_BROADCAST", true)
	v.SetDefault("ADMIN_PASSWORD", "admin")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	ttl := v.GetInt("SESSION_TTL_MINUTES")
	if ttl <= 0 {
		ttl = 24 * 60
	}
	maxUpload := v.GetInt64("MAX_UPLOAD_BYTES")
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	exts := splitList(v.GetString("ALLOWED_EXTENSIONS"), true)
	if len(exts) == 0 {
		exts = []string{"png", "jpg", "jpeg", "gif", "pdf"}
	}
	return Config{
		Port:                v.GetString("APP_PORT"),
		Env:                 v.GetString("APP_ENV"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		SecretKey:           v.GetString("SECRET_KEY"),
		SessionTTLMinutes:   ttl,
		UploadDir:           v.GetString("UPLOAD_DIR"),
		MaxUploadBytes:      maxUpload,
		AllowedExtensions:   exts,
		AllowedOrigins:      splitList(v.GetString("ALLOWED_ORIGINS"), false),
		RoomScopedBroadcast: v.GetBool("ROOM_SCOPED_BROADCAST"),
		AdminPassword:       v.GetString("ADMIN_PASSWORD"),
	}, nil
}

// Validate rejects configurations that cannot serve traffic safely.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if cfg.Env != "dev" && cfg.SecretKey == defaultSecret {
		return errors.New("SECRET_KEY must be changed outside dev")
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	return nil
}

func splitList(s string, lower bool) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if lower {
			p = strings.ToLower(strings.TrimPrefix(p, "."))
		}
		out = append(out, p)
	}
	return out
}
