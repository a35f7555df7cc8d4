package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/gateway"
	"github.com/mcdev12/auctionsync/go/internal/auction/lifecycle"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	LogLevel       zerolog.Level
	AllowedOrigins []string
	SeedFile       string

	// StoreDriver is "postgres" or "memory".
	StoreDriver string
	Database    dbconfig.Config

	// NATS is empty when events stay inside this instance.
	NATS events.JetStreamConfig

	Gateway   gateway.Config
	Lifecycle lifecycle.Config
}

func parseConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("auctionsync", pflag.ContinueOnError)

	// server config
	fs.String("port", "8080", "HTTP listen port")
	fs.String("log-level", "info", "zerolog level")
	fs.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	fs.String("seed-file", "", "YAML file of auction definitions created at startup")

	// db config
	db := dbconfig.DefaultConfig()
	fs.String("store", "postgres", "auction store: postgres or memory")
	fs.String("db-host", db.Host, "postgres host")
	fs.Int("db-port", db.Port, "postgres port")
	fs.String("db-user", db.User, "postgres user")
	fs.String("db-password", db.Password, "postgres password")
	fs.String("db-name", db.Database, "postgres database")
	fs.String("db-sslmode", db.SSLMode, "postgres sslmode")
	fs.Int32("db-max-conns", db.MaxConns, "pool size")

	// nats config
	js := events.DefaultJetStreamConfig()
	fs.String("nats-url", "", "NATS server; empty keeps events local to this instance")
	fs.String("nats-stream", js.StreamName, "JetStream stream name")
	fs.String("nats-subject-prefix", js.SubjectPrefix, "subject prefix, one subject per auction")

	// timing
	fs.Duration("grace-period", room.DefaultGracePeriod, "how long an empty room keeps its auction cached")
	fs.Duration("snapshot-debounce", gateway.DefaultSnapshotDebounce, "quiet period after a bid before a room snapshot")
	fs.Duration("sweep-interval", lifecycle.DefaultConfig().Interval, "lifecycle sweep interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("AUCTIONSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		LogLevel:       level,
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		SeedFile:       v.GetString("seed-file"),
		StoreDriver:    v.GetString("store"),
		Database: dbconfig.Config{
			Host:            v.GetString("db-host"),
			Port:            v.GetInt("db-port"),
			User:            v.GetString("db-user"),
			Password:        v.GetString("db-password"),
			Database:        v.GetString("db-name"),
			SSLMode:         v.GetString("db-sslmode"),
			MaxConns:        v.GetInt32("db-max-conns"),
			MaxConnLifetime: db.MaxConnLifetime,
		},
		Gateway:   gateway.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
	}

	if url := v.GetString("nats-url"); url != "" {
		js.URL = url
		js.StreamName = v.GetString("nats-stream")
		js.SubjectPrefix = v.GetString("nats-subject-prefix")
		cfg.NATS = js
	}

	cfg.Gateway.Room.GracePeriod = v.GetDuration("grace-period")
	cfg.Gateway.SnapshotDebounce = v.GetDuration("snapshot-debounce")
	cfg.Lifecycle.Interval = v.GetDuration("sweep-interval")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.StoreDriver)
	}
	if c.Lifecycle.Interval < 100*time.Millisecond {
		return fmt.Errorf("sweep interval %s is too short", c.Lifecycle.Interval)
	}
	if c.Gateway.Room.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	return nil
}
