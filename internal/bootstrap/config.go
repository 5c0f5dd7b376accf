package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SessionDriverRedis  = "redis"
	SessionDriverMongo  = "mongo"
	SessionDriverMemory = "memory"
)

type Config struct {
	ServerPort       string        `mapstructure:"SERVER_PORT"`
	PublicURL        string        `mapstructure:"PUBLIC_URL"`
	BackendURL       string        `mapstructure:"BACKEND_URL"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionDriver    string        `mapstructure:"SESSION_DRIVER"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
	InviteTTL        time.Duration `mapstructure:"INVITE_TTL"`
	RedisUrl         string        `mapstructure:"REDIS_URL"`
	MongoUri         string        `mapstructure:"MONGO_URI"`
	MongoDatabase    string        `mapstructure:"MONGO_DATABASE"`
	IsLocalCors      bool          `mapstructure:"LOCAL_CORS"`
	MatchLimit       int           `mapstructure:"MATCH_LIMIT"`
	AutoSyncInterval time.Duration `mapstructure:"AUTO_SYNC_INTERVAL"`
}

var defaults = map[string]any{
	"SERVER_PORT":        "8080",
	"PUBLIC_URL":         "http://localhost:8080",
	"BACKEND_URL":        "http://localhost:8000",
	"REQUEST_TIMEOUT":    10 * time.Second,
	"SESSION_DRIVER":     SessionDriverRedis,
	"SESSION_TTL":        24 * time.Hour,
	"INVITE_TTL":         time.Hour,
	"REDIS_URL":          "localhost:6379",
	"MONGO_URI":          "mongodb://localhost:27017",
	"MONGO_DATABASE":     "clash_tracker",
	"LOCAL_CORS":         false,
	"MATCH_LIMIT":        50,
	"AUTO_SYNC_INTERVAL": 15 * time.Minute,
}

// Setup reads cfgPath (a .env file, optional) and the process environment.
// Environment variables win over the file.
func Setup(cfgPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("bootstrap.Setup: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("bootstrap.Setup: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.SessionDriver = strings.ToLower(strings.TrimSpace(c.SessionDriver))
	switch c.SessionDriver {
	case SessionDriverRedis, SessionDriverMongo, SessionDriverMemory:
	default:
		return fmt.Errorf("bootstrap.Setup: unknown SESSION_DRIVER %q", c.SessionDriver)
	}
	if c.BackendURL == "" {
		return errors.New("bootstrap.Setup: missing BACKEND_URL")
	}
	if c.MatchLimit <= 0 {
		c.MatchLimit = 50
	}
	return nil
}
