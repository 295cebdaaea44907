package main

import (
	"fmt"
	"slices"
)

const (
	driverMemory   = "memory"
	driverMongo    = "mongo"
	driverPostgres = "postgres"
	driverRedis    = "redis"
)

type appConfig struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"memory"`  // memory, mongo or postgres
	SignalDriver string `env:"SIGNAL_DRIVER" envDefault:"memory"` // memory or redis
	SignalTopic  string `env:"SIGNAL_TOPIC" envDefault:"notifications:appended"`
	// InstanceID tags cross-instance signals; a random ID is used when empty.
	InstanceID string `env:"INSTANCE_ID"`
	// AllowedOrigins lists browser origins allowed by CORS; "*" allows any.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

func (c *appConfig) Validate() error {
	if !slices.Contains([]string{driverMemory, driverMongo, driverPostgres}, c.StoreDriver) {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if !slices.Contains([]string{driverMemory, driverRedis}, c.SignalDriver) {
		return fmt.Errorf("unknown SIGNAL_DRIVER %q", c.SignalDriver)
	}
	if c.SignalDriver == driverRedis && c.SignalTopic == "" {
		return fmt.Errorf("SIGNAL_TOPIC is required with the redis signal driver")
	}
	return nil
}
