package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Schedule.Daily != "0 8 * * *" {
		t.Errorf("Schedule.Daily = %q", cfg.Schedule.Daily)
	}
	if cfg.Schedule.Weekly != "0 8 * * 0" {
		t.Errorf("Schedule.Weekly = %q", cfg.Schedule.Weekly)
	}
	if cfg.Schedule.PollInterval != 2*time.Minute {
		t.Errorf("Schedule.PollInterval = %v", cfg.Schedule.PollInterval)
	}
	if cfg.Schedule.WeekStart != time.Sunday {
		t.Errorf("Schedule.WeekStart = %v, want Sunday", cfg.Schedule.WeekStart)
	}
	if cfg.Digest.UpdateWindowStart != 0 || cfg.Digest.UpdateWindowEnd != 24 {
		t.Errorf("update window = %d..%d, want 0..24", cfg.Digest.UpdateWindowStart, cfg.Digest.UpdateWindowEnd)
	}
	if cfg.Digest.MinUpdateInterval != 2*time.Minute {
		t.Errorf("Digest.MinUpdateInterval = %v", cfg.Digest.MinUpdateInterval)
	}
	if cfg.Digest.PersistBeforeSend {
		t.Error("Digest.PersistBeforeSend = true, want false")
	}
	if cfg.Storage.LocalDir != "./data" {
		t.Errorf("Storage.LocalDir = %q", cfg.Storage.LocalDir)
	}
	if cfg.Storage.UseGCS() {
		t.Error("Storage.UseGCS() = true without a bucket")
	}
	if want := []string{"primary"}; !reflect.DeepEqual(cfg.Google.Calendars, want) {
		t.Errorf("Google.Calendars = %v, want %v", cfg.Google.Calendars, want)
	}
	if cfg.ICS.Enabled() {
		t.Error("ICS.Enabled() = true without URLs")
	}
	if cfg.ICS.FetchTimeout != 30*time.Second {
		t.Errorf("ICS.FetchTimeout = %v", cfg.ICS.FetchTimeout)
	}
	if cfg.Telegram.Enabled() {
		t.Error("Telegram.Enabled() = true without credentials")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CHAT_ID", "-100200300")
	t.Setenv("TIMEZONE", "Europe/Rome")
	t.Setenv("DAILY_SCHEDULE", "30 7 * * *")
	t.Setenv("WEEKLY_SCHEDULE", "0 9 * * 1")
	t.Setenv("POLL_MINUTES", "5")
	t.Setenv("WEEK_START", "Monday")
	t.Setenv("UPDATE_WINDOW_START", "8")
	t.Setenv("UPDATE_WINDOW_END", "22")
	t.Setenv("MIN_UPDATE_SECONDS", "300")
	t.Setenv("PERSIST_BEFORE_SEND", "true")
	t.Setenv("STORAGE_BUCKET", "digest-state")
	t.Setenv("GOOGLE_CALENDARS", "primary, Family")
	t.Setenv("ICS_URLS", "https://a.example/cal.ics, https://b.example/cal.ics")
	t.Setenv("RULES_FILE", "/etc/digest/rules.yaml")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "10")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Telegram.Enabled() {
		t.Error("Telegram.Enabled() = false")
	}
	if cfg.Telegram.ChatID != "-100200300" {
		t.Errorf("Telegram.ChatID = %q", cfg.Telegram.ChatID)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "Europe/Rome" {
		t.Errorf("Location() = %v", loc)
	}
	if cfg.Schedule.Daily != "30 7 * * *" {
		t.Errorf("Schedule.Daily = %q", cfg.Schedule.Daily)
	}
	if cfg.Schedule.PollInterval != 5*time.Minute {
		t.Errorf("Schedule.PollInterval = %v", cfg.Schedule.PollInterval)
	}
	if cfg.Schedule.WeekStart != time.Monday {
		t.Errorf("Schedule.WeekStart = %v, want Monday", cfg.Schedule.WeekStart)
	}
	if cfg.Digest.UpdateWindowStart != 8 || cfg.Digest.UpdateWindowEnd != 22 {
		t.Errorf("update window = %d..%d, want 8..22", cfg.Digest.UpdateWindowStart, cfg.Digest.UpdateWindowEnd)
	}
	if cfg.Digest.MinUpdateInterval != 5*time.Minute {
		t.Errorf("Digest.MinUpdateInterval = %v", cfg.Digest.MinUpdateInterval)
	}
	if !cfg.Digest.PersistBeforeSend {
		t.Error("Digest.PersistBeforeSend = false")
	}
	if cfg.Digest.RulesFile != "/etc/digest/rules.yaml" {
		t.Errorf("Digest.RulesFile = %q", cfg.Digest.RulesFile)
	}
	if !cfg.Storage.UseGCS() || cfg.Storage.Bucket != "digest-state" {
		t.Errorf("Storage.Bucket = %q", cfg.Storage.Bucket)
	}
	if want := []string{"primary", "Family"}; !reflect.DeepEqual(cfg.Google.Calendars, want) {
		t.Errorf("Google.Calendars = %v, want %v", cfg.Google.Calendars, want)
	}
	if want := []string{"https://a.example/cal.ics", "https://b.example/cal.ics"}; !reflect.DeepEqual(cfg.ICS.URLs, want) {
		t.Errorf("ICS.URLs = %v, want %v", cfg.ICS.URLs, want)
	}
	if cfg.ICS.FetchTimeout != 10*time.Second {
		t.Errorf("ICS.FetchTimeout = %v", cfg.ICS.FetchTimeout)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
}

func TestLoadChatIDRequired(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CHAT_ID", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CHAT_ID") {
		t.Errorf("Load() error = %v, want CHAT_ID requirement", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "bad daily cron", key: "DAILY_SCHEDULE", value: "not a cron", wantErr: "DAILY_SCHEDULE"},
		{name: "bad weekly cron", key: "WEEKLY_SCHEDULE", value: "61 8 * * *", wantErr: "WEEKLY_SCHEDULE"},
		{name: "bad week start", key: "WEEK_START", value: "someday", wantErr: "WEEK_START"},
		{name: "bad timezone", key: "TIMEZONE", value: "Mars/Olympus", wantErr: "timezone"},
		{name: "window out of range", key: "UPDATE_WINDOW_END", value: "25", wantErr: "update window"},
		{name: "zero poll interval", key: "POLL_MINUTES", value: "0", wantErr: "POLL_MINUTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{name: "lowercase", in: "sunday", want: time.Sunday},
		{name: "capitalized", in: "Monday", want: time.Monday},
		{name: "padded", in: " friday ", want: time.Friday},
		{name: "unknown", in: "someday", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWeekday(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWeekday(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseWeekday(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "primary", want: []string{"primary"}},
		{name: "spaces and blanks", in: " a , ,b,", want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
