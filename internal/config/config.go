package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "botix"
	DefaultPGSSLMode      = "disable"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultGraphVersion   = "v19.0"
	DefaultGraphBaseURL   = "https://graph.facebook.com"
	DefaultGeocodeBaseURL = "https://nominatim.openstreetmap.org"
	DefaultPushExchange   = "botix.push"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Push     PushConfig     `toml:"push"`
	Geocode  GeocodeConfig  `toml:"geocode"`
	Router   RouterConfig   `toml:"router"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders a pgx-compatible connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	UseTLS   bool   `toml:"use_tls"`
}

type WhatsAppConfig struct {
	BaseURL     string `toml:"base_url"`
	APIVersion  string `toml:"api_version"`
	VerifyToken string `toml:"verify_token"`
}

type SandboxConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	MaxSourceBytes int `toml:"max_source_bytes"`
	Workers        int `toml:"workers"`
}

// Timeout returns the per-invocation wall-clock limit.
func (c SandboxConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PushConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type GeocodeConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	CacheTTLHours  int    `toml:"cache_ttl_hours"`
}

type RouterConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:    DefaultGraphBaseURL,
			APIVersion: DefaultGraphVersion,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 3,
			MaxSourceBytes: 256 * 1024,
			Workers:        8,
		},
		Push: PushConfig{
			Exchange: DefaultPushExchange,
		},
		Geocode: GeocodeConfig{
			BaseURL:        DefaultGeocodeBaseURL,
			TimeoutSeconds: 10,
			CacheTTLHours:  24,
		},
		Router: RouterConfig{
			Workers:   8,
			QueueSize: 256,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
