package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/codeGROOVE-dev/retry"
	"github.com/teambition/rrule-go"

	"calendar-notifier/pkg/digest"
)

// ICSProvider reads events from one or more ICS feed URLs, expanding
// recurring events into concrete instances.
type ICSProvider struct {
	client *http.Client
	logger *slog.Logger
	loc    *time.Location
	urls   []string
}

// NewICSProvider creates a provider reading the given feed URLs.
func NewICSProvider(urls []string, loc *time.Location, timeout time.Duration, logger *slog.Logger) *ICSProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ICSProvider{
		client: &http.Client{Timeout: timeout},
		urls:   urls,
		loc:    loc,
		logger: logger,
	}
}

// Events fetches and parses all configured feeds, returning event instances
// within [from, to).
func (p *ICSProvider) Events(ctx context.Context, from, to time.Time) ([]digest.Event, error) {
	var events []digest.Event
	for _, url := range p.urls {
		body, err := p.fetch(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("fetch feed %s: %w", redactURL(url), err)
		}
		evs, err := eventsFromFeed(body, from, to, p.loc)
		if err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", redactURL(url), err)
		}
		for i := range evs {
			evs[i].CalendarID = url
		}
		events = append(events, evs...)
	}
	sortByStart(events)

	p.logger.Info("Fetched ICS events",
		"feeds", len(p.urls),
		"event_count", len(events),
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339))

	return events, nil
}

func (p *ICSProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := p.client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying ICS fetch after error", "url", redactURL(url), "attempt", n, "error", err)
		}),
	)
	return body, err
}

// icsEvent is one parsed VEVENT before recurrence expansion. The embedded
// event's times hold DTSTART/DTEND of the base definition.
type icsEvent struct {
	recurrence *time.Time // RECURRENCE-ID when this VEVENT overrides one instance
	uid        string
	rawRRule   string
	exDates    []time.Time
	ev         digest.Event
}

// eventsFromFeed parses one ICS payload and expands it into concrete event
// instances overlapping [from, to). Broken VEVENTs are skipped so one bad
// entry does not lose the whole feed.
func eventsFromFeed(body []byte, from, to time.Time, loc *time.Location) ([]digest.Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var bases []icsEvent
	overrides := make(map[string][]icsEvent)

	for _, ve := range cal.Events() {
		parsed, err := parseVEvent(ve, loc)
		if err != nil {
			continue
		}
		if parsed.recurrence != nil {
			overrides[parsed.uid] = append(overrides[parsed.uid], parsed)
		} else {
			bases = append(bases, parsed)
		}
	}

	var events []digest.Event
	for _, base := range bases {
		events = append(events, expandEvent(base, overrides[base.uid], from, to, loc)...)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (icsEvent, error) {
	var out icsEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.ev.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.ev.Organizer = strings.TrimPrefix(p.Value, "mailto:")
	}
	if p := ve.GetProperty(ical.ComponentPropertyLastModified); p != nil {
		if t, err := parseICSTime(p.Value, loc); err == nil {
			out.ev.Updated = t
		}
	}

	// All-day detection: VALUE=DATE parameter or a date-only DTSTART value.
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.ev.AllDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			out.ev.AllDay = true
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s: %w", out.uid, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional: all-day events default to one day, timed
		// events to zero length.
		end = start
	}

	if out.ev.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	}

	out.ev.Start = start
	out.ev.End = end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, loc); err == nil {
			out.recurrence = &t
		}
	}

	return out, nil
}

// expandEvent turns one base VEVENT into its instances within [from, to),
// applying EXDATEs and RECURRENCE-ID overrides.
func expandEvent(base icsEvent, overrides []icsEvent, from, to time.Time, loc *time.Location) []digest.Event {
	if base.rawRRule == "" {
		if !base.ev.End.After(from) || !base.ev.Start.Before(to) {
			return nil
		}
		return []digest.Event{instance(base, overrides, base.ev.Start, base.ev.End)}
	}

	r, err := rrule.StrToRRule(base.rawRRule)
	if err != nil {
		return nil
	}
	r.DTStart(base.ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range base.exDates {
		set.ExDate(ex.In(base.ev.Start.Location()))
	}

	duration := base.ev.End.Sub(base.ev.Start)
	baseLoc := base.ev.Start.Location()

	// The query starts one duration early so an occurrence already running
	// at the window open is seen; instances are then kept by the same
	// overlap test as one-off events.
	var events []digest.Event
	for _, start := range set.Between(from.Add(-duration).In(baseLoc), to.In(baseLoc), true) {
		if base.ev.AllDay {
			// Pin expanded all-day instances back to local midnight so
			// DST transitions do not drift them.
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		}
		end := start.Add(duration)
		if !end.After(from) || !start.Before(to) {
			continue
		}
		events = append(events, instance(base, overrides, start, end))
	}
	return events
}

// instance builds one concrete event. The ID is keyed to the occurrence's
// scheduled start, so an override that moves the instance is reported as a
// modification rather than a removal plus an addition.
func instance(base icsEvent, overrides []icsEvent, start, end time.Time) digest.Event {
	ev := base.ev
	ev.Start = start
	ev.End = end
	ev.ID = base.uid + "/" + start.UTC().Format(time.RFC3339)

	for _, ov := range overrides {
		if ov.recurrence != nil && ov.recurrence.In(start.Location()).Equal(start) {
			id := ev.ID
			ev = ov.ev
			ev.ID = id
			break
		}
	}

	return ev
}

// parseICSTime parses the basic ICS date and date-time forms used by
// EXDATE, RECURRENCE-ID and LAST-MODIFIED values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// redactURL hides the path and query of a feed URL in logs; private ICS
// URLs embed access tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j != -1 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/..."
}
