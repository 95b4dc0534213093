package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Telegram TelegramConfig `yaml:"telegram"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`

	// IANA zone used for the stamps written to the tables
	Timezone string `yaml:"timezone"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"` // sheets, sqlite, memory
	SQLitePath string `yaml:"sqlite_path"`
}

type SheetsConfig struct {
	SpreadsheetID    string   `yaml:"spreadsheet_id"`
	SpreadsheetTitle string   `yaml:"spreadsheet_title"`
	CredentialsFile  string   `yaml:"credentials_file"`
	CredentialsJSON  string   `yaml:"credentials_json"`
	PendingSheet     string   `yaml:"pending_sheet"`
	HistorySheet     string   `yaml:"history_sheet"`
	Timeout          Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Token          string   `yaml:"token"`
	TeamChatID     int64    `yaml:"team_chat_id"`
	DigestInterval Duration `yaml:"digest_interval"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Duration reads "30s"-style strings from YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:     "sheets",
			SQLitePath: "./data/caixas.db",
		},
		Sheets: SheetsConfig{
			SpreadsheetTitle: "Controle de caixas HCPA",
			PendingSheet:     "pendentes",
			HistorySheet:     "historico",
			Timeout:          Duration{30 * time.Second},
		},
		Telegram: TelegramConfig{
			DigestInterval: Duration{time.Hour},
		},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info"},
		Timezone: "America/Sao_Paulo",
	}
}

// Load reads path (if not empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.SQLitePath, "DB_PATH")
	setString(&c.Sheets.SpreadsheetID, "SPREADSHEET_ID")
	setString(&c.Sheets.SpreadsheetTitle, "SPREADSHEET_TITLE")
	setString(&c.Sheets.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	// secret-store deployments inject the whole service account JSON
	setString(&c.Sheets.CredentialsJSON, "GCP_SERVICE_ACCOUNT")
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("TEAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TEAM_CHAT_ID: %w", err)
		}
		c.Telegram.TeamChatID = id
	}
	if v := os.Getenv("DIGEST_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DIGEST_INTERVAL: %w", err)
		}
		c.Telegram.DigestInterval = Duration{d}
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = b
	}
	return nil
}

// Validate checks the settings the selected store driver needs.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Driver) {
	case "sheets":
		if c.Sheets.SpreadsheetID == "" && c.Sheets.SpreadsheetTitle == "" {
			errs = append(errs, errors.New("sheets.spreadsheet_id or sheets.spreadsheet_title is required"))
		}
		if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsJSON == "" {
			errs = append(errs, errors.New("sheets.credentials_file or GCP_SERVICE_ACCOUNT is required"))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver %q", c.Store.Driver))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	if c.Telegram.DigestInterval.Duration < 0 {
		errs = append(errs, errors.New("telegram.digest_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// Location returns the configured zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
