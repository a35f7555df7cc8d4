package dbconfig

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MaxConnLifetime time.Duration
}

// DefaultConfig is a local development database.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "auctionsync",
		SSLMode:         "disable",
		MaxConns:        10,
		MaxConnLifetime: time.Hour,
	}
}

// DSN returns the Postgres connection URL, including pool settings understood by pgxpool.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.MaxConns > 0 {
		q.Set("pool_max_conns", fmt.Sprint(c.MaxConns))
	}
	if c.MaxConnLifetime > 0 {
		q.Set("pool_max_conn_lifetime", c.MaxConnLifetime.String())
	}
	u.RawQuery = q.Encode()
	return u.String()
}
