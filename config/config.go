// Package config loads settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds the full service configuration.
type Config struct {
	Telegram TelegramConfig
	Google   GoogleConfig
	ICS      ICSConfig
	Storage  StorageConfig
	Schedule ScheduleConfig
	Digest   DigestConfig
	Timezone string
	Port     string
}

// TelegramConfig holds bot credentials and the target chat.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// GoogleConfig selects calendars and the credentials used to read them.
type GoogleConfig struct {
	Calendars        []string
	CredentialsJSON  string
	ClientSecretPath string
	TokenPath        string
}

// ICSConfig lists ICS feed URLs to watch instead of Google Calendar.
type ICSConfig struct {
	URLs         []string
	FetchTimeout time.Duration
}

// StorageConfig selects where snapshots and schedule state live.
type StorageConfig struct {
	Bucket   string
	LocalDir string
}

// ScheduleConfig drives the digest jobs.
type ScheduleConfig struct {
	Daily        string
	Weekly       string
	PollInterval time.Duration
	WeekStart    time.Weekday
}

// DigestConfig tunes change-message delivery.
type DigestConfig struct {
	RulesFile         string
	UpdateWindowStart int
	UpdateWindowEnd   int
	MinUpdateInterval time.Duration
	PersistBeforeSend bool
}

// Load reads configuration from the environment, with .env as a fallback
// for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: TelegramConfig{
			BotToken: getEnv("BOT_TOKEN", ""),
			ChatID:   getEnv("CHAT_ID", ""),
		},
		Google: GoogleConfig{
			Calendars:        splitList(getEnv("GOOGLE_CALENDARS", "primary")),
			CredentialsJSON:  getEnv("GOOGLE_CREDENTIALS_JSON", ""),
			ClientSecretPath: getEnv("GOOGLE_CLIENT_SECRET", "credentials/client_secret.json"),
			TokenPath:        getEnv("GOOGLE_TOKEN", "credentials/token.json"),
		},
		ICS: ICSConfig{
			URLs:         splitList(getEnv("ICS_URLS", "")),
			FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Storage: StorageConfig{
			Bucket:   getEnv("STORAGE_BUCKET", ""),
			LocalDir: getEnv("LOCAL_STORAGE", "./data"),
		},
		Schedule: ScheduleConfig{
			Daily:        getEnv("DAILY_SCHEDULE", "0 8 * * *"),
			Weekly:       getEnv("WEEKLY_SCHEDULE", "0 8 * * 0"),
			PollInterval: time.Duration(getEnvInt("POLL_MINUTES", 2)) * time.Minute,
		},
		Digest: DigestConfig{
			RulesFile:         getEnv("RULES_FILE", ""),
			UpdateWindowStart: getEnvInt("UPDATE_WINDOW_START", 0),
			UpdateWindowEnd:   getEnvInt("UPDATE_WINDOW_END", 24),
			MinUpdateInterval: time.Duration(getEnvInt("MIN_UPDATE_SECONDS", 120)) * time.Second,
			PersistBeforeSend: getEnvBool("PERSIST_BEFORE_SEND", false),
		},
		Timezone: getEnv("TIMEZONE", ""),
		Port:     getEnv("PORT", "8080"),
	}

	weekStart, err := parseWeekday(getEnv("WEEK_START", "sunday"))
	if err != nil {
		return nil, fmt.Errorf("parse WEEK_START: %w", err)
	}
	cfg.Schedule.WeekStart = weekStart

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == "" {
		return nil, fmt.Errorf("CHAT_ID is required when BOT_TOKEN is set")
	}
	if _, err := cron.ParseStandard(cfg.Schedule.Daily); err != nil {
		return nil, fmt.Errorf("parse DAILY_SCHEDULE: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.Schedule.Weekly); err != nil {
		return nil, fmt.Errorf("parse WEEKLY_SCHEDULE: %w", err)
	}
	if cfg.Schedule.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_MINUTES must be positive")
	}
	if s, e := cfg.Digest.UpdateWindowStart, cfg.Digest.UpdateWindowEnd; s < 0 || s > 23 || e < 0 || e > 24 {
		return nil, fmt.Errorf("update window hours out of range: %d..%d", s, e)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location resolves the configured timezone, defaulting to the system one.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Enabled reports whether Telegram delivery is configured.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// Enabled reports whether any ICS feeds are configured.
func (c ICSConfig) Enabled() bool {
	return len(c.URLs) > 0
}

// UseGCS reports whether state is stored in a Cloud Storage bucket.
func (c StorageConfig) UseGCS() bool {
	return c.Bucket != ""
}

func parseWeekday(s string) (time.Weekday, error) {
	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	day, ok := days[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return day, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
