package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	TokenTTL       time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}

	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}

// Driver picks the store backend from the DSN. Postgres URLs and keyword
// DSNs select lib/pq, anything else is opened as a SQLite file.
func (c *Config) Driver() Driver {
	dsn := strings.TrimSpace(c.DatabaseDSN)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	ApiURL     *url.URL
	WsURL      *url.URL
	Email      string
	Password   string
	TypingIdle time.Duration
}

func NewClientConfig(apiURL, email, password string, typingIdle time.Duration) (*ClientConfig, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("api url cannot be empty")
	}
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if typingIdle < 0 {
		return nil, fmt.Errorf("typing idle must not be negative")
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	ws.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return &ClientConfig{
		ApiURL:     u,
		WsURL:      &ws,
		Email:      email,
		Password:   password,
		TypingIdle: typingIdle,
	}, nil
}

// LoadEnv reads files into the process environment. Missing files are
// skipped; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	return nil
}

// Env returns the value of key, or def when it is unset or blank.
func Env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return def
}

// EnvList splits a comma separated variable.
func EnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
