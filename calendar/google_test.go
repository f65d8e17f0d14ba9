package calendar

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func testGoogleProvider(t *testing.T) *GoogleProvider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGoogleProvider(nil, []string{PrimaryKeyword}, time.UTC, logger)
}

func TestConvertEvent(t *testing.T) {
	p := testGoogleProvider(t)

	t.Run("timed event", func(t *testing.T) {
		ev, ok := p.convertEvent(&gcal.Event{
			Id:          "ev-1",
			Summary:     "Team standup",
			Description: "Daily sync",
			Location:    "Zoom",
			Status:      "confirmed",
			Updated:     "2026-03-08T18:00:00Z",
			Organizer:   &gcal.EventOrganizer{DisplayName: "Dana", Email: "dana@example.com"},
			Start:       &gcal.EventDateTime{DateTime: "2026-03-09T09:30:00+01:00"},
			End:         &gcal.EventDateTime{DateTime: "2026-03-09T09:45:00+01:00"},
		}, "primary-id")
		if !ok {
			t.Fatal("convertEvent() skipped a valid event")
		}
		if ev.ID != "ev-1" || ev.CalendarID != "primary-id" {
			t.Errorf("identity = %q/%q, want ev-1/primary-id", ev.ID, ev.CalendarID)
		}
		if ev.Organizer != "Dana" {
			t.Errorf("Organizer = %q, want display name preferred", ev.Organizer)
		}
		if !ev.Start.Equal(time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)) {
			t.Errorf("Start = %v, want 08:30 UTC", ev.Start)
		}
		if ev.AllDay {
			t.Error("timed event marked all-day")
		}
		if !ev.Updated.Equal(time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC)) {
			t.Errorf("Updated = %v, want parsed timestamp", ev.Updated)
		}
	})

	t.Run("all-day event", func(t *testing.T) {
		ev, ok := p.convertEvent(&gcal.Event{
			Id:      "ev-2",
			Summary: "Errands day",
			Start:   &gcal.EventDateTime{Date: "2026-03-09"},
			End:     &gcal.EventDateTime{Date: "2026-03-10"},
		}, "primary-id")
		if !ok {
			t.Fatal("convertEvent() skipped a valid all-day event")
		}
		if !ev.AllDay {
			t.Error("date-only event should be all-day")
		}
		if !ev.Start.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Start = %v, want local midnight", ev.Start)
		}
	})

	t.Run("organizer email fallback", func(t *testing.T) {
		ev, ok := p.convertEvent(&gcal.Event{
			Id:        "ev-3",
			Summary:   "Call",
			Organizer: &gcal.EventOrganizer{Email: "dana@example.com"},
			Start:     &gcal.EventDateTime{DateTime: "2026-03-09T10:00:00Z"},
			End:       &gcal.EventDateTime{DateTime: "2026-03-09T10:30:00Z"},
		}, "primary-id")
		if !ok {
			t.Fatal("convertEvent() skipped a valid event")
		}
		if ev.Organizer != "dana@example.com" {
			t.Errorf("Organizer = %q, want email fallback", ev.Organizer)
		}
	})

	t.Run("cancelled event skipped", func(t *testing.T) {
		if _, ok := p.convertEvent(&gcal.Event{
			Id:     "ev-4",
			Status: "cancelled",
			Start:  &gcal.EventDateTime{DateTime: "2026-03-09T10:00:00Z"},
			End:    &gcal.EventDateTime{DateTime: "2026-03-09T10:30:00Z"},
		}, "primary-id"); ok {
			t.Error("cancelled events should be skipped")
		}
	})

	t.Run("event without times skipped", func(t *testing.T) {
		if _, ok := p.convertEvent(&gcal.Event{Id: "ev-5"}, "primary-id"); ok {
			t.Error("events without start/end should be skipped")
		}
	})
}

func TestMatchCalendars(t *testing.T) {
	entries := []*gcal.CalendarListEntry{
		{Id: "primary-id", Summary: "dana@example.com", Primary: true},
		{Id: "family-id", Summary: "Family calendar"},
		{Id: "work-id", Summary: "Work"},
	}

	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{
			name:  "primary keyword",
			names: []string{"PRIMARY"},
			want:  []string{"primary-id"},
		},
		{
			name:  "substring match is case-insensitive",
			names: []string{"FAMILY"},
			want:  []string{"family-id"},
		},
		{
			name:  "configured order preserved",
			names: []string{"work", "primary"},
			want:  []string{"work-id", "primary-id"},
		},
		{
			name:  "duplicates collapsed",
			names: []string{"family", "Family calendar"},
			want:  []string{"family-id"},
		},
		{
			name:  "no match",
			names: []string{"school"},
			want:  nil,
		},
		{
			name:  "blank names ignored",
			names: []string{"", "  ", "work"},
			want:  []string{"work-id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchCalendars(tt.names, entries)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("matchCalendars(%v) = %v, want %v", tt.names, got, tt.want)
			}
		})
	}
}

func TestEventsMergedSortedAcrossCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/calendarList", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"personal","summary":"Personal","primary":true},{"id":"work","summary":"Work"}]}`))
	})
	mux.HandleFunc("/calendars/personal/events", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"p1","summary":"Dentist","status":"confirmed","start":{"dateTime":"2026-03-09T15:00:00Z"},"end":{"dateTime":"2026-03-09T15:30:00Z"}}]}`))
	})
	mux.HandleFunc("/calendars/work/events", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"w1","summary":"Standup","status":"confirmed","start":{"dateTime":"2026-03-09T09:00:00Z"},"end":{"dateTime":"2026-03-09T09:15:00Z"}},{"id":"w2","summary":"Review","status":"confirmed","start":{"dateTime":"2026-03-09T15:00:00Z"},"end":{"dateTime":"2026-03-09T16:00:00Z"}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := NewGoogleProvider(svc, []string{"primary", "work"}, time.UTC, logger)

	events, err := p.Events(context.Background(),
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}

	// Calendar order would yield p1 first; time order puts w1 first and
	// breaks the 15:00 tie by ID.
	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if !reflect.DeepEqual(ids, []string{"w1", "p1", "w2"}) {
		t.Errorf("Events() order = %v, want [w1 p1 w2]", ids)
	}
}
