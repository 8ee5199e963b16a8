package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort string

	MachineSecret string
}

// New loads and validates configuration from environment variables.
// Postgres, Redis and the machine secret are required. NATS is optional:
// if unset, NatsAddr() returns an error and bootstrap skips the bus, the
// machine deposit subscription and the cache sync worker.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("ECOPOINTS_POSTGRES_USER"),
		DBPass:        os.Getenv("ECOPOINTS_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("ECOPOINTS_POSTGRES_HOST"),
		DBPort:        os.Getenv("ECOPOINTS_POSTGRES_PORT"),
		DBName:        os.Getenv("ECOPOINTS_POSTGRES_DB"),
		SSLMode:       os.Getenv("ECOPOINTS_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("ECOPOINTS_REDIS_HOST"),
		RedisPort:     os.Getenv("ECOPOINTS_REDIS_PORT"),
		NatsHost:      os.Getenv("ECOPOINTS_NATS_HOST"),
		NatsPort:      os.Getenv("ECOPOINTS_NATS_PORT"),
		ApiPort:       os.Getenv("ECOPOINTS_API_PORT"),
		MachineSecret: os.Getenv("ECOPOINTS_MACHINE_SECRET"),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: ECOPOINTS_POSTGRES_USER/HOST/DB/SSLMODE")
	}
	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: ECOPOINTS_REDIS_HOST/PORT")
	}

	// Required: the shared secret gating machine deposits
	if cfg.MachineSecret == "" {
		return nil, fmt.Errorf("missing required env: ECOPOINTS_MACHINE_SECRET")
	}

	if cfg.ApiPort == "" {
		cfg.ApiPort = "8080"
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// NatsAddr returns the NATS URL if configured. An error means NATS is
// disabled — callers should skip everything bus-related.
func (c *Config) NatsAddr() (string, error) {
	if c.NatsHost == "" || c.NatsPort == "" {
		return "", fmt.Errorf("NATS is disabled (ECOPOINTS_NATS_HOST/PORT not set)")
	}
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort), nil
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}
