// Package config loads service settings from defaults, an optional config
// file, a .env file and CONTRACTFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CONTRACTFLOW"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// DatabaseConfig holds the journal connection. An empty URL disables it.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type GeneratorConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PaymentsConfig holds the platform fee in basis points.
type PaymentsConfig struct {
	FeeBPS int64 `mapstructure:"fee_bps"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration. CONTRACTFLOW_CONFIG points at an optional YAML file.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("generator.base_url", "")
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.api_key_env", envPrefix+"_GENERATOR_API_KEY")
	v.SetDefault("generator.timeout", 30*time.Second)
	v.SetDefault("payments.fee_bps", 250)
	v.SetDefault("catalog.path", "")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if c.Payments.FeeBPS < 0 || c.Payments.FeeBPS > 10000 {
		return fmt.Errorf("config: payments.fee_bps out of range: %d", c.Payments.FeeBPS)
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("config: generator.timeout must be positive")
	}
	return nil
}
