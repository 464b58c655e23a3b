package app

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Key storage modes.
const (
	KeysEphemeral  = "ephemeral"
	KeysPersistent = "persistent"
)

// Config is the authority configuration, read from the environment and an
// optional .env file in the working directory. Environment wins.
type Config struct {
	Port                 int           `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	LogFormat            string        `mapstructure:"LOG_FORMAT"`
	ShutdownGracePeriod  time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`
	HousekeepingInterval time.Duration `mapstructure:"HOUSEKEEPING_INTERVAL"`

	Algorithm      string        `mapstructure:"AUTH_ALGORITHM"`        // RS256, ES256 or EdDSA
	RSABits        int           `mapstructure:"AUTH_RSA_BITS"`         // RS256 only
	KeyStorageMode string        `mapstructure:"AUTH_KEY_STORAGE_MODE"` // ephemeral or persistent
	KeyGracePeriod time.Duration `mapstructure:"AUTH_KEY_GRACE_PERIOD"`
	MasterKeyPath  string        `mapstructure:"AUTH_MASTER_KEY_PATH"` // persistent keys are encrypted with this

	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	DatabaseFile string `mapstructure:"DATABASE_FILE"`
	RedisURL     string `mapstructure:"REDIS_URL"`

	// APIKey is compared as is; APIKeyHash is a cryptox.HashSecret encoding.
	// At most one may be set. With neither, the recipe endpoints are open.
	APIKey     string `mapstructure:"API_KEY"`
	APIKeyHash string `mapstructure:"API_KEY_HASH"`
}

// LoadConfig reads .env (if present) and the environment, applies defaults
// and validates the result.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", "10s")
	v.SetDefault("HOUSEKEEPING_INTERVAL", "1h")
	v.SetDefault("AUTH_ALGORITHM", jwtx.AlgorithmEdDSA)
	v.SetDefault("AUTH_RSA_BITS", 0)
	v.SetDefault("AUTH_KEY_STORAGE_MODE", KeysEphemeral)
	v.SetDefault("AUTH_KEY_GRACE_PERIOD", jwtx.DefaultGracePeriod.String())
	v.SetDefault("AUTH_MASTER_KEY_PATH", "")
	v.SetDefault("ACCESS_TOKEN_TTL", jwtx.DefaultAccessTokenTTL.String())
	v.SetDefault("REFRESH_TOKEN_TTL", jwtx.DefaultRefreshTokenTTL.String())
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_FILE", "authority.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("API_KEY_HASH", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	case !slices.Contains([]string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA}, c.Algorithm):
		return fmt.Errorf("config: AUTH_ALGORITHM %q not supported (RS256, ES256, EdDSA)", c.Algorithm)
	case c.KeyStorageMode != KeysEphemeral && c.KeyStorageMode != KeysPersistent:
		return fmt.Errorf("config: AUTH_KEY_STORAGE_MODE must be %s or %s", KeysEphemeral, KeysPersistent)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return errors.New("config: token lifetimes must be positive")
	case c.AccessTokenTTL >= c.RefreshTokenTTL:
		return errors.New("config: ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	case c.KeyGracePeriod < c.AccessTokenTTL:
		return errors.New("config: AUTH_KEY_GRACE_PERIOD must cover ACCESS_TOKEN_TTL")
	case c.StoreDriver != DriverSQLite && c.StoreDriver != DriverRedis:
		return fmt.Errorf("config: STORE_DRIVER must be %s or %s", DriverSQLite, DriverRedis)
	case c.StoreDriver == DriverRedis && c.RedisURL == "":
		return errors.New("config: REDIS_URL must be set when STORE_DRIVER=redis")
	case c.APIKey != "" && c.APIKeyHash != "":
		return errors.New("config: set API_KEY or API_KEY_HASH, not both")
	}
	return nil
}
