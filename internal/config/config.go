package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "chatvault"
	DefaultPGSSLMode    = "disable"
	DefaultStorageRoot  = "data"
	DefaultMaxAttempts  = 3
	DefaultBackoffMs    = 500
	DefaultBackoffCapMs = 8000
	DefaultGroupSyncMs  = 1500
	DefaultRedriveSpec  = "@every 10m"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Storage   StorageConfig   `toml:"storage"`
	Transfer  TransferConfig  `toml:"transfer"`
	GroupSync GroupSyncConfig `toml:"group_sync"`
	Redrive   RedriveConfig   `toml:"redrive"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig selects and configures the object storage backend.
// Backend is "localfs" or "s3".
type StorageConfig struct {
	Backend string        `toml:"backend"`
	LocalFS LocalFSConfig `toml:"localfs"`
	S3      S3Config      `toml:"s3"`
}

type LocalFSConfig struct {
	Root string `toml:"root"`
	// PublicBaseURL is prepended to storage paths when building public URLs.
	PublicBaseURL string `toml:"public_base_url"`
}

type S3Config struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url"`
}

type TransferConfig struct {
	MaxAttempts  int `toml:"max_attempts"`
	BackoffMs    int `toml:"backoff_ms"`
	BackoffCapMs int `toml:"backoff_cap_ms"`
	TimeoutSec   int `toml:"timeout_sec"`
}

type GroupSyncConfig struct {
	// InitialDelayMs is how long a scheduled sync waits before running,
	// giving sibling messages from the same group burst time to land.
	InitialDelayMs int `toml:"initial_delay_ms"`
	Workers        int `toml:"workers"`
}

type RedriveConfig struct {
	// Schedule is a cron spec for the needs_redownload sweep.
	Schedule string `toml:"schedule"`
	Batch    int    `toml:"batch"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
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
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			Backend: "localfs",
			LocalFS: LocalFSConfig{
				Root: DefaultStorageRoot,
			},
		},
		Transfer: TransferConfig{
			MaxAttempts:  DefaultMaxAttempts,
			BackoffMs:    DefaultBackoffMs,
			BackoffCapMs: DefaultBackoffCapMs,
			TimeoutSec:   60,
		},
		GroupSync: GroupSyncConfig{
			InitialDelayMs: DefaultGroupSyncMs,
			Workers:        2,
		},
		Redrive: RedriveConfig{
			Schedule: DefaultRedriveSpec,
			Batch:    50,
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
