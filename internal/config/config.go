package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink selection values recognized in APP_SINK.
const (
	SinkFile   = "file"
	SinkSheets = "sheets"
	SinkNone   = "none"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	SourceURL        string
	SampleInterval   time.Duration
	FetchTimeout     time.Duration
	Timezone         string
	Sink             string
	FilePath         string
	Sheets           SheetsConfig
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	HistoryMaxPoints int
	WS               WebsocketConfig
}

// SheetsConfig holds the remote-sink endpoint and OAuth client credentials.
type SheetsConfig struct {
	AppendURL    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       ":8080",
		SampleInterval:   15 * time.Minute,
		FetchTimeout:     10 * time.Second,
		Timezone:         "America/New_York",
		Sink:             SinkFile,
		FilePath:         "erwait.csv",
		Sheets: SheetsConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		LogLevel:         slog.LevelInfo,
		HistoryMaxPoints: 672,
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	if value := strings.TrimSpace(os.Getenv("APP_LISTEN_ADDR")); value != "" {
		cfg.ListenAddr = value
	}

	cfg.SourceURL = strings.TrimSpace(os.Getenv("APP_SOURCE_URL"))
	if cfg.SourceURL == "" {
		return Config{}, fmt.Errorf("APP_SOURCE_URL must be set")
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SAMPLE_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_SAMPLE_INTERVAL must be > 0")
		}
		cfg.SampleInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_FETCH_TIMEOUT")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_FETCH_TIMEOUT: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_FETCH_TIMEOUT must be > 0")
		}
		cfg.FetchTimeout = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_TIMEZONE")); value != "" {
		if _, err := time.LoadLocation(value); err != nil {
			return Config{}, fmt.Errorf("parse APP_TIMEZONE: %w", err)
		}
		cfg.Timezone = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SINK")); value != "" {
		switch value {
		case SinkFile, SinkSheets, SinkNone:
			cfg.Sink = value
		default:
			return Config{}, fmt.Errorf("unsupported APP_SINK %q", value)
		}
	}

	if value := strings.TrimSpace(os.Getenv("APP_FILE_PATH")); value != "" {
		cfg.FilePath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SHEETS_APPEND_URL")); value != "" {
		cfg.Sheets.AppendURL = value
	}
	if value := strings.TrimSpace(os.Getenv("APP_OAUTH_TOKEN_URL")); value != "" {
		cfg.Sheets.TokenURL = value
	}
	if value := strings.TrimSpace(os.Getenv("APP_OAUTH_CLIENT_ID")); value != "" {
		cfg.Sheets.ClientID = value
	}
	if value := strings.TrimSpace(os.Getenv("APP_OAUTH_CLIENT_SECRET")); value != "" {
		cfg.Sheets.ClientSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("APP_OAUTH_REFRESH_TOKEN")); value != "" {
		cfg.Sheets.RefreshToken = value
	}

	if cfg.Sink == SinkSheets {
		if cfg.Sheets.AppendURL == "" {
			return Config{}, fmt.Errorf("APP_SHEETS_APPEND_URL must be set for the sheets sink")
		}
		if cfg.Sheets.ClientID == "" || cfg.Sheets.ClientSecret == "" || cfg.Sheets.RefreshToken == "" {
			return Config{}, fmt.Errorf("APP_OAUTH_CLIENT_ID, APP_OAUTH_CLIENT_SECRET and APP_OAUTH_REFRESH_TOKEN must be set for the sheets sink")
		}
	}

	if value := strings.TrimSpace(os.Getenv("APP_ALLOWED_ORIGINS")); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PPROF")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_HISTORY_MAX_POINTS")); value != "" {
		maxPoints, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_HISTORY_MAX_POINTS: %w", err)
		}
		if maxPoints < 0 {
			return Config{}, fmt.Errorf("APP_HISTORY_MAX_POINTS must be >= 0")
		}
		cfg.HistoryMaxPoints = maxPoints
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_MAX_CLIENTS")); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("APP_WS_MAX_CLIENTS must be > 0")
		}
		cfg.WS.MaxClients = maxClients
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_WRITE_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_WRITE_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_WRITE_TIMEOUT must be > 0")
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_READ_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_READ_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_READ_TIMEOUT must be > 0")
		}
		cfg.WS.ReadTimeout = timeout
	}

	return cfg, nil
}

// Location resolves the configured timezone. Validity is checked in Load.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
