package format

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calendar-notifier/pkg/digest"
)

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		ev   digest.Event
		want bool
	}{
		{
			name: "keyword in title",
			rule: Rule{Keywords: []string{"tennis"}},
			ev:   digest.Event{Title: "Tennis practice"},
			want: true,
		},
		{
			name: "keyword is case-insensitive",
			rule: Rule{Keywords: []string{"tennis"}},
			ev:   digest.Event{Title: "TENNIS FINAL"},
			want: true,
		},
		{
			name: "keyword absent",
			rule: Rule{Keywords: []string{"tennis"}},
			ev:   digest.Event{Title: "Morning run"},
			want: false,
		},
		{
			name: "location match",
			rule: Rule{Locations: []string{"court"}},
			ev:   digest.Event{Title: "Practice", Location: "Center Court 2"},
			want: true,
		},
		{
			name: "organizer match",
			rule: Rule{Organizers: []string{"coach@example.com"}},
			ev:   digest.Event{Title: "Practice", Organizer: "Coach@Example.com"},
			want: true,
		},
		{
			name: "empty keyword never matches everything",
			rule: Rule{Keywords: []string{""}},
			ev:   digest.Event{Title: "Anything"},
			want: false,
		},
		{
			name: "empty location entry ignored",
			rule: Rule{Locations: []string{""}},
			ev:   digest.Event{Title: "Anything"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(tt.ev); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultRulesCoverCommonEvents(t *testing.T) {
	tests := []struct {
		title string
		emoji string
	}{
		{"Public holiday", "🎉"},
		{"Dana's birthday", "🎂"},
		{"Tennis with Alex", "🎾"},
		{"Weekly sync", "💼"},
		{"Haircut", "💇"},
	}

	rules := DefaultRules()
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			matched := ""
			for _, r := range rules {
				if r.Matches(digest.Event{Title: tt.title}) {
					matched += r.Emoji
				}
			}
			if !strings.Contains(matched, tt.emoji) {
				t.Errorf("default rules matched %q for %q, want %q", matched, tt.title, tt.emoji)
			}
		})
	}
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules(\"\") error: %v", err)
	}
	if len(rules) != len(DefaultRules()) {
		t.Errorf("LoadRules(\"\") returned %d rules, want %d", len(rules), len(DefaultRules()))
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - name: gym
    emoji: "🏋️"
    keywords: ["gym", "workout"]
  - name: office
    emoji: "🏢"
    locations: ["hq"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadRules() returned %d rules, want 2", len(rules))
	}
	if rules[0].Name != "gym" || rules[0].Emoji != "🏋️" || len(rules[0].Keywords) != 2 {
		t.Errorf("first rule = %+v, want gym rule with two keywords", rules[0])
	}
	if !rules[1].Matches(digest.Event{Title: "Planning", Location: "HQ floor 3"}) {
		t.Error("office rule should match events at HQ")
	}
}

func TestLoadRulesErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(t *testing.T, name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRules(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("LoadRules() on a missing file should fail")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := write(t, "broken.yaml", "rules: [unclosed")
		if _, err := LoadRules(path); err == nil {
			t.Error("LoadRules() on invalid YAML should fail")
		}
	})

	t.Run("rule without emoji", func(t *testing.T) {
		path := write(t, "no-emoji.yaml", "rules:\n  - name: x\n    keywords: [\"a\"]\n")
		if _, err := LoadRules(path); err == nil {
			t.Error("LoadRules() should reject a rule without an emoji")
		}
	})

	t.Run("rule without matchers", func(t *testing.T) {
		path := write(t, "no-matchers.yaml", "rules:\n  - name: x\n    emoji: \"🏢\"\n")
		if _, err := LoadRules(path); err == nil {
			t.Error("LoadRules() should reject a rule with nothing to match")
		}
	})
}
