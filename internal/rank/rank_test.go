package rank

import (
	"reflect"
	"testing"
)

func keys(items []Ranked) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.EventKey)
	}
	return out
}

func TestRankFiltersPool(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{EventKey: "kept", IsTrending: true, ConfidenceScore: 40, SourceCount: 3},
		{EventKey: "not-trending", IsTrending: false, ConfidenceScore: 90},
		{EventKey: "clustered", IsTrending: true, Clustered: true, ConfidenceScore: 90},
		{EventKey: "low-confidence", IsTrending: true, ConfidenceScore: 29},
	}

	result := Rank(candidates, Options{MinConfidence: 30})
	if result.Evaluated != 4 {
		t.Errorf("Evaluated = %d, want 4", result.Evaluated)
	}
	if got := keys(result.Items); !reflect.DeepEqual(got, []string{"kept"}) {
		t.Errorf("kept items = %v, want only %q", got, "kept")
	}
}

func TestRankActionableFirstThenScore(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		// Not actionable: trending but below every actionability bar.
		{EventKey: "quiet-high", IsTrending: true, ConfidenceScore: 65},
		{EventKey: "quiet-low", IsTrending: true, ConfidenceScore: 35},
		// Actionable by breaking flag; bonus outranks raw confidence.
		{EventKey: "breaking", IsTrending: true, IsBreaking: true, ConfidenceScore: 40},
		// Actionable by confidence alone.
		{EventKey: "confident", IsTrending: true, ConfidenceScore: 75},
		// Actionable by z-score; 50 + 3*10 = 80 ties nothing.
		{EventKey: "surging", IsTrending: true, ConfidenceScore: 50, ZScoreVelocity: 3},
	}

	result := Rank(candidates, Options{MinConfidence: 30})
	want := []string{"breaking", "surging", "confident", "quiet-high", "quiet-low"}
	if got := keys(result.Items); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	for _, item := range result.Items[:3] {
		if !item.Actionable {
			t.Errorf("%s should be actionable", item.EventKey)
		}
	}
	for _, item := range result.Items[3:] {
		if item.Actionable {
			t.Errorf("%s should not be actionable", item.EventKey)
		}
	}
}

func TestRankActionabilityCriteria(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		c    Candidate
		want bool
	}{
		{name: "breaking", c: Candidate{IsBreaking: true}, want: true},
		{name: "high confidence", c: Candidate{ConfidenceScore: 70}, want: true},
		{name: "z-score", c: Candidate{ZScoreVelocity: 2}, want: true},
		{name: "relevance", c: Candidate{Relevance: 25}, want: true},
		{name: "corroboration", c: Candidate{SourceCount: 3}, want: true},
		{name: "none", c: Candidate{ConfidenceScore: 69, ZScoreVelocity: 1.9, Relevance: 24, SourceCount: 2}, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isActionable(tc.c); got != tc.want {
				t.Errorf("isActionable(%+v) = %v, want %v", tc.c, got, tc.want)
			}
		})
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{EventKey: "bravo", IsTrending: true, ConfidenceScore: 75},
		{EventKey: "alpha", IsTrending: true, ConfidenceScore: 75},
	}

	first := Rank(candidates, Options{MinConfidence: 30})
	reversed := Rank([]Candidate{candidates[1], candidates[0]}, Options{MinConfidence: 30})
	want := []string{"alpha", "bravo"}
	if got := keys(first.Items); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(keys(first.Items), keys(reversed.Items)) {
		t.Errorf("ranking depends on input order: %v vs %v", keys(first.Items), keys(reversed.Items))
	}
}

func TestRankLimit(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{EventKey: "third", IsTrending: true, ConfidenceScore: 72},
		{EventKey: "first", IsTrending: true, IsBreaking: true, ConfidenceScore: 60},
		{EventKey: "second", IsTrending: true, ConfidenceScore: 90},
	}

	result := Rank(candidates, Options{MinConfidence: 30, Limit: 2})
	want := []string{"first", "second"}
	if got := keys(result.Items); !reflect.DeepEqual(got, want) {
		t.Errorf("limited order = %v, want %v", got, want)
	}
	if result.Evaluated != 3 {
		t.Errorf("Evaluated = %d, want 3", result.Evaluated)
	}
}

func TestRankEmptyPool(t *testing.T) {
	t.Parallel()

	result := Rank(nil, Options{MinConfidence: 30})
	if result.Items == nil {
		t.Fatal("Items must be an explicit empty slice, not nil")
	}
	if len(result.Items) != 0 || result.Evaluated != 0 {
		t.Errorf("empty pool result = %+v, want empty", result)
	}
}

func TestRankNoActionableReturnsEmpty(t *testing.T) {
	t.Parallel()

	// Trending and above the confidence floor, but below every
	// actionability bar: the result must be empty, never a fallback
	// top-N by confidence.
	candidates := []Candidate{
		{EventKey: "quiet-a", IsTrending: true, ConfidenceScore: 45, ZScoreVelocity: 1.0, SourceCount: 2, Relevance: 10},
		{EventKey: "quiet-b", IsTrending: true, ConfidenceScore: 35, ZScoreVelocity: 1.0, SourceCount: 2, Relevance: 10},
	}

	result := Rank(candidates, Options{MinConfidence: 30})
	if result.Items == nil {
		t.Fatal("Items must be an explicit empty slice, not nil")
	}
	if len(result.Items) != 0 {
		t.Errorf("Items = %v, want empty when nothing is actionable", keys(result.Items))
	}
	if result.Evaluated != 2 {
		t.Errorf("Evaluated = %d, want 2", result.Evaluated)
	}
}
