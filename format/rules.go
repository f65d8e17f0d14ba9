package format

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"calendar-notifier/pkg/digest"
)

// Rule decorates matching events with an emoji. An event matches when any
// keyword appears in its title, any location entry in its location, or any
// organizer entry in its organizer, all case-insensitive substring checks.
type Rule struct {
	Name       string   `yaml:"name"`
	Emoji      string   `yaml:"emoji"`
	Keywords   []string `yaml:"keywords,omitempty"`
	Locations  []string `yaml:"locations,omitempty"`
	Organizers []string `yaml:"organizers,omitempty"`
}

// Matches reports whether the event triggers this rule.
func (r Rule) Matches(ev digest.Event) bool {
	title := strings.ToLower(ev.Title)
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
			return true
		}
	}

	location := strings.ToLower(ev.Location)
	for _, l := range r.Locations {
		if l != "" && strings.Contains(location, strings.ToLower(l)) {
			return true
		}
	}

	organizer := strings.ToLower(ev.Organizer)
	for _, o := range r.Organizers {
		if o != "" && strings.Contains(organizer, strings.ToLower(o)) {
			return true
		}
	}

	return false
}

// DefaultRules returns the built-in emoji rules used when no rules file is
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "holiday", Emoji: "🎉", Keywords: []string{"holiday", "vacation"}},
		{Name: "birthday", Emoji: "🎂", Keywords: []string{"birthday"}},
		{Name: "match", Emoji: "⚽", Keywords: []string{"match", "tournament"}},
		{Name: "tennis", Emoji: "🎾", Keywords: []string{"tennis"}},
		{Name: "lecture", Emoji: "📚", Keywords: []string{"lecture", "seminar"}},
		{Name: "exam", Emoji: "📝", Keywords: []string{"exam", "midterm"}},
		{Name: "meeting", Emoji: "💼", Keywords: []string{"meeting", "1:1", "standup", "sync"}},
		{Name: "haircut", Emoji: "💇", Keywords: []string{"haircut", "barber"}},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads emoji rules from a YAML file. An empty path selects the
// built-in defaults; a path that cannot be read or parsed is an error, never
// a silent fallback.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	for i, r := range rf.Rules {
		if r.Emoji == "" {
			return nil, fmt.Errorf("rules file: rule %d (%s) has no emoji", i, r.Name)
		}
		if len(r.Keywords) == 0 && len(r.Locations) == 0 && len(r.Organizers) == 0 {
			return nil, fmt.Errorf("rules file: rule %d (%s) has no keywords, locations or organizers", i, r.Name)
		}
	}

	return rf.Rules, nil
}
