// Package config loads service configuration from the environment.
//
// Every variable is prefixed with CLINIC_, e.g. CLINIC_SERVER_ADDR or
// CLINIC_AUTH_JWT_SECRET. An optional .env file in the working directory
// is loaded first and never overrides variables already set.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const Prefix = "CLINIC"

type Config struct {
	Server  ServerConfig
	Logger  LoggerConfig
	Store   StoreConfig
	Counter CounterConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Kafka   KafkaConfig
	Restock RestockConfig
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

type LoggerConfig struct {
	Level             string `envconfig:"LEVEL" default:"info"`
	Encoding          string `envconfig:"ENCODING" default:"json"`
	Development       bool   `envconfig:"DEVELOPMENT" default:"false"`
	DisableCaller     bool   `envconfig:"DISABLE_CALLER" default:"false"`
	DisableStacktrace bool   `envconfig:"DISABLE_STACKTRACE" default:"true"`
}

type StoreConfig struct {
	Driver        string        `envconfig:"DRIVER" default:"sqlite"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"./data/clinic.db"`
	MongoURI      string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase string        `envconfig:"MONGO_DATABASE" default:"clinic"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type CounterConfig struct {
	Backend string        `envconfig:"BACKEND" default:"store"`
	TTL     time.Duration `envconfig:"TTL" default:"0"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	Prefix   string `envconfig:"PREFIX" default:"counter:"`
}

type AuthConfig struct {
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	Issuer          string        `envconfig:"ISSUER" default:"clinic-engine"`
	IdentityTTL     time.Duration `envconfig:"IDENTITY_TTL" default:"5m"`
	DiscloseDenials bool          `envconfig:"DISCLOSE_DENIALS" default:"false"`
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"ENABLED" default:"false"`
	Brokers []string `envconfig:"BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"TOPIC" default:"purchasing.events"`
	GroupID string   `envconfig:"GROUP_ID" default:"clinic-restock"`
}

type RestockConfig struct {
	ScanInterval time.Duration `envconfig:"SCAN_INTERVAL" default:"1h"`
	Threshold    float64       `envconfig:"THRESHOLD" default:"1.0"`
	TimeZone     string        `envconfig:"TIME_ZONE" default:"UTC"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to load .env")
		}
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	c.Counter.Backend = strings.ToLower(c.Counter.Backend)

	switch c.Store.Driver {
	case "memory", "sqlite", "mongo":
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Counter.Backend {
	case "store", "redis":
	default:
		return errors.Errorf("unknown counter backend %q", c.Counter.Backend)
	}
	if c.Restock.Threshold <= 0 {
		return errors.New("restock threshold must be greater than zero")
	}
	if _, err := time.LoadLocation(c.Restock.TimeZone); err != nil {
		return errors.Wrapf(err, "invalid restock time zone %q", c.Restock.TimeZone)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store timeout must be greater than zero")
	}
	return nil
}

// Location returns the time zone document numbers are dated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Restock.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
