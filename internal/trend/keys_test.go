package trend

import (
	"testing"
)

func TestNormalizeLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercase and trim", input: "  Trump Fires Wray  ", want: "trump fires wray"},
		{name: "punctuation stripped", input: "Breaking: Wray fired?!", want: "breaking wray fired"},
		{name: "whitespace collapsed", input: "a \t b\n c", want: "a b c"},
		{name: "symbols stripped", input: "oil > $100/barrel", want: "oil 100 barrel"},
		{name: "empty", input: "   ", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeLabel(tc.input); got != tc.want {
				t.Errorf("NormalizeLabel(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestContainsWord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		term string
		want bool
	}{
		{name: "single word match", text: "trump fires wray", term: "wray", want: true},
		{name: "multi word match", text: "senate passes budget bill", term: "budget bill", want: true},
		{name: "substring is not a word", text: "so many problems", term: "ny", want: false},
		{name: "case insensitive", text: "Fire in NY Subway", term: "ny", want: true},
		{name: "order matters", text: "wray fired by trump", term: "trump wray", want: false},
		{name: "empty term", text: "anything", term: "", want: false},
		{name: "empty text", text: "", term: "wray", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsWord(tc.text, tc.term); got != tc.want {
				t.Errorf("ContainsWord(%q, %q) = %v, want %v", tc.text, tc.term, got, tc.want)
			}
		})
	}
}

func TestDeriveEventKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		title       string
		entities    []string
		wantKey     string
		wantLabel   string
		wantPrimary string
	}{
		{
			name:        "entity present in title wins",
			title:       "Trump Fires Wray",
			entities:    []string{"FBI", "Wray"},
			wantKey:     "trump-fires-wray",
			wantLabel:   "trump fires wray",
			wantPrimary: "wray",
		},
		{
			name:        "falls back to first entity",
			title:       "Agency director dismissed",
			entities:    []string{"Wray", "FBI"},
			wantKey:     "agency-director-dismissed",
			wantLabel:   "agency director dismissed",
			wantPrimary: "wray",
		},
		{
			name:        "no substring false positive",
			title:       "So many problems ahead",
			entities:    []string{"NY", "Congress"},
			wantKey:     "so-many-problems-ahead",
			wantLabel:   "so many problems ahead",
			wantPrimary: "ny",
		},
		{
			name:      "no entities",
			title:     "Markets rally on rate cut",
			wantKey:   "markets-rally-on-rate-cut",
			wantLabel: "markets rally on rate cut",
		},
		{
			name:     "empty title yields nothing",
			title:    "!!!",
			entities: []string{"Wray"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, label, primary := DeriveEventKey(tc.title, tc.entities)
			if key != tc.wantKey || label != tc.wantLabel || primary != tc.wantPrimary {
				t.Errorf("DeriveEventKey(%q, %v) = (%q, %q, %q), want (%q, %q, %q)",
					tc.title, tc.entities, key, label, primary, tc.wantKey, tc.wantLabel, tc.wantPrimary)
			}
		})
	}
}

func TestLabelShapes(t *testing.T) {
	t.Parallel()

	if !IsEventPhrase("trump fires wray") {
		t.Error("three-word label should be an event phrase")
	}
	if IsEventPhrase("wray fired") {
		t.Error("two-word label is not an event phrase")
	}
	if !IsEntityOnly("wray") {
		t.Error("single word should be entity-only")
	}
	if !IsEntityOnly("christopher wray") {
		t.Error("two words should be entity-only")
	}
	if IsEntityOnly("") {
		t.Error("empty label is neither shape")
	}
	if IsEntityOnly("trump fires wray") {
		t.Error("event phrase is not entity-only")
	}
}
