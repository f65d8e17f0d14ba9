// Package format renders calendar digests as Telegram Markdown messages.
package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"calendar-notifier/pkg/digest"
)

const (
	clockLayout  = "15:04"
	dayLayout    = "Mon Jan 2"
	headerLayout = "Monday, January 2"

	// teaserLimit caps the description excerpt shown under added events.
	teaserLimit = 100
)

// Composer renders events for one chat: a fixed timezone and emoji rule set.
type Composer struct {
	loc   *time.Location
	rules []Rule
}

// NewComposer creates a composer. A nil location falls back to time.Local.
func NewComposer(rules []Rule, loc *time.Location) *Composer {
	if loc == nil {
		loc = time.Local
	}
	return &Composer{rules: rules, loc: loc}
}

// Daily renders the schedule for one day. All-day events lead, timed events
// follow in start order.
func (c *Composer) Daily(day time.Time, events []digest.Event) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📅 *%s*\n", day.In(c.loc).Format(headerLayout)))

	if len(events) == 0 {
		b.WriteString("\nNo events scheduled.")
		return b.String()
	}

	for _, ev := range sortForDisplay(events) {
		b.WriteString("\n")
		b.WriteString(c.eventLine(ev))
		if ev.Location != "" {
			b.WriteString(fmt.Sprintf("\n  📍 %s", escapeMarkdown(ev.Location)))
		}
	}

	return b.String()
}

// Weekly renders a full week as one section per day, empty days included so
// the reader sees the whole week at a glance.
func (c *Composer) Weekly(weekStart time.Time, events []digest.Event) string {
	var b strings.Builder

	start := weekStart.In(c.loc)
	b.WriteString(fmt.Sprintf("🗓 *Week of %s*\n", start.Format("January 2")))

	// Day boundaries computed via AddDate so DST transitions land on the
	// real local midnight.
	bounds := make([]time.Time, 8)
	for i := range bounds {
		bounds[i] = start.AddDate(0, 0, i)
	}

	days := make([][]digest.Event, 7)
	for _, ev := range events {
		evStart := ev.Start.In(c.loc)
		if !evStart.Before(bounds[7]) {
			continue
		}
		idx := 0
		for i := range 7 {
			if !evStart.Before(bounds[i]) {
				idx = i
			}
		}
		days[idx] = append(days[idx], ev)
	}

	for i := range 7 {
		b.WriteString(fmt.Sprintf("\n*%s*\n", bounds[i].Format("Monday Jan 2")))
		if len(days[i]) == 0 {
			b.WriteString("(no events)\n")
			continue
		}
		for _, ev := range sortForDisplay(days[i]) {
			b.WriteString(c.eventLine(ev))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// Changes renders a delta message describing added, removed and modified
// events since the previous poll.
func (c *Composer) Changes(cs digest.ChangeSet) string {
	var b strings.Builder

	b.WriteString("🔄 *Calendar update*\n")

	if len(cs.Added) > 0 {
		b.WriteString("\n*Added:*\n")
		for _, ev := range cs.Added {
			b.WriteString(fmt.Sprintf("➕ *%s* %s%s\n", c.timeSpan(ev), c.title(ev), c.emojiSuffix(ev)))
			if ev.Location != "" {
				b.WriteString(fmt.Sprintf("  📍 %s\n", escapeMarkdown(ev.Location)))
			}
			if teaser := descriptionTeaser(ev.Description); teaser != "" {
				b.WriteString(fmt.Sprintf("  💬 %s\n", escapeMarkdown(teaser)))
			}
		}
	}

	if len(cs.Removed) > 0 {
		b.WriteString("\n*Removed:*\n")
		for _, ev := range cs.Removed {
			b.WriteString(fmt.Sprintf("➖ *%s* %s\n", c.timeSpan(ev), c.title(ev)))
		}
	}

	if len(cs.Modified) > 0 {
		b.WriteString("\n*Changed:*\n")
		for _, ch := range cs.Modified {
			b.WriteString(fmt.Sprintf("✏️ %s%s\n", c.title(ch.After), c.emojiSuffix(ch.After)))
			if ch.Before.Title != ch.After.Title {
				b.WriteString(fmt.Sprintf("  was \"%s\"\n", escapeMarkdown(ch.Before.Title)))
			}
			timeChanged := !ch.Before.Start.Equal(ch.After.Start) ||
				!ch.Before.End.Equal(ch.After.End) ||
				ch.Before.AllDay != ch.After.AllDay
			if timeChanged {
				b.WriteString(fmt.Sprintf("  %s → %s\n", c.timeSpan(ch.Before), c.timeSpan(ch.After)))
			}
			if ch.Before.Location != ch.After.Location {
				b.WriteString(fmt.Sprintf("  📍 %s → %s\n", locationOrNone(ch.Before.Location), locationOrNone(ch.After.Location)))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// eventLine renders one event without its date, for use inside a day section.
func (c *Composer) eventLine(ev digest.Event) string {
	if ev.AllDay {
		return fmt.Sprintf("*All day* %s%s", c.title(ev), c.emojiSuffix(ev))
	}
	start := ev.Start.In(c.loc)
	end := ev.End.In(c.loc)
	return fmt.Sprintf("*%s–%s* %s%s", start.Format(clockLayout), end.Format(clockLayout), c.title(ev), c.emojiSuffix(ev))
}

// timeSpan renders an event's date and time range, collapsing same-day spans.
func (c *Composer) timeSpan(ev digest.Event) string {
	start := ev.Start.In(c.loc)
	end := ev.End.In(c.loc)

	if ev.AllDay {
		// All-day events carry an exclusive end date; the last covered
		// day is one before it.
		last := end.AddDate(0, 0, -1)
		if last.After(start) {
			return fmt.Sprintf("%s – %s, all day", start.Format(dayLayout), last.Format(dayLayout))
		}
		return fmt.Sprintf("%s, all day", start.Format(dayLayout))
	}

	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return fmt.Sprintf("%s %s–%s", start.Format(dayLayout), start.Format(clockLayout), end.Format(clockLayout))
	}
	return fmt.Sprintf("%s %s – %s %s", start.Format(dayLayout), start.Format(clockLayout), end.Format(dayLayout), end.Format(clockLayout))
}

func (c *Composer) title(ev digest.Event) string {
	if ev.Title == "" {
		return "(untitled)"
	}
	return escapeMarkdown(ev.Title)
}

// emojiSuffix collects the emojis of all matching rules, in rule order.
func (c *Composer) emojiSuffix(ev digest.Event) string {
	var emojis strings.Builder
	for _, r := range c.rules {
		if r.Matches(ev) {
			emojis.WriteString(r.Emoji)
		}
	}
	if emojis.Len() == 0 {
		return ""
	}
	return " " + emojis.String()
}

func locationOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return escapeMarkdown(s)
}

// sortForDisplay orders events for rendering: all-day first, then by start,
// then by title. The input slice is left untouched.
func sortForDisplay(events []digest.Event) []digest.Event {
	sorted := make([]digest.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AllDay != sorted[j].AllDay {
			return sorted[i].AllDay
		}
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].Title < sorted[j].Title
	})
	return sorted
}

// descriptionTeaser reduces an event description to a short single-line
// excerpt. Google Calendar descriptions are often HTML fragments, so markup
// is stripped before truncating.
func descriptionTeaser(description string) string {
	if description == "" {
		return ""
	}

	text := description
	if strings.Contains(description, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(description)); err == nil {
			text = doc.Text()
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > teaserLimit {
		text = string(runes[:teaserLimit]) + "…"
	}
	return text
}

// escapeMarkdown escapes the characters Telegram's legacy Markdown parser
// treats as formatting so event titles cannot break the message.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "_", `\_`)
	s = strings.ReplaceAll(s, "*", `\*`)
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, "[", `\[`)
	return s
}
