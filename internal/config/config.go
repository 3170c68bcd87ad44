// Package config manages application configuration from default values,
// an optional config.yaml file, and WADIGEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"      validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// AIConfig holds settings for the Gemini scoring client.
type AIConfig struct {
	APIKey            string  `mapstructure:"api_key"             validate:"required"`
	ModelName         string  `mapstructure:"model_name"          validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=1"`
}

// AuthConfig holds settings for API authentication.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"    validate:"required,min=16"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"     validate:"min=1m"`
	AdminUserID int64         `mapstructure:"admin_user_id" validate:"min=0"`
}

// DigestConfig controls the digest sweep and data retention jobs.
type DigestConfig struct {
	SweepSchedule       string `mapstructure:"sweep_schedule"       validate:"required"`
	CleanupSchedule     string `mapstructure:"cleanup_schedule"     validate:"required"`
	ImportanceThreshold int    `mapstructure:"importance_threshold" validate:"min=1,max=5"`
	UrgentThreshold     int    `mapstructure:"urgent_threshold"     validate:"min=1,max=5"`
	RetentionDays       int    `mapstructure:"retention_days"       validate:"min=1"`
}

// Config is the root application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	AI       AIConfig       `mapstructure:"ai"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Digest   DigestConfig   `mapstructure:"digest"`
}

// LoadConfig loads configuration in three layers: defaults, the YAML file at
// configPath (missing file is not an error), and WADIGEST_* environment
// variables. The merged result is validated before being returned.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("WADIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "wadigest.db")

	// Registering the credential keys (even empty) lets AutomaticEnv
	// resolve them when no config file is present.
	v.SetDefault("telegram.token", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("ai.model_name", "gemini-2.0-flash")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.retry_delay_seconds", 2)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.admin_user_id", 1)

	v.SetDefault("digest.sweep_schedule", "0 */5 * * * *")
	v.SetDefault("digest.cleanup_schedule", "0 0 3 * * *")
	v.SetDefault("digest.importance_threshold", 3)
	v.SetDefault("digest.urgent_threshold", 5)
	v.SetDefault("digest.retention_days", 30)
}
