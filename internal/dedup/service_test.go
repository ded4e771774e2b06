package dedup

import (
	"testing"
	"time"
)

var testCfg = Config{
	Window:             24 * time.Hour,
	AutoMergeThreshold: 0.85,
	ReviewThreshold:    0.70,
	CandidateThreshold: 0.60,
}

func clusterIDs(plan Plan) [][]int64 {
	out := make([][]int64, 0, len(plan.Clusters))
	for _, cluster := range plan.Clusters {
		ids := make([]int64, 0, len(cluster))
		for _, m := range cluster {
			ids = append(ids, m.EventID)
		}
		out = append(out, ids)
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestBuildPlanExactLabels(t *testing.T) {
	t.Parallel()

	events := []Event{
		{EventID: 1, Label: "senate passes budget bill", Confidence: 80},
		{EventID: 2, Label: "Senate passes budget bill!", Confidence: 40},
		{EventID: 3, Label: "celtics win finals", Confidence: 50},
	}

	plan := BuildPlan(events, testCfg)
	if len(plan.Clusters) != 1 {
		t.Fatalf("clusters = %v, want one", clusterIDs(plan))
	}
	cluster := plan.Clusters[0]
	if len(cluster) != 2 {
		t.Fatalf("cluster members = %v, want two", cluster)
	}
	if cluster[0].EventID != 1 {
		t.Errorf("canonical = %d, want higher-confidence event 1", cluster[0].EventID)
	}
}

func TestBuildPlanDecisionBands(t *testing.T) {
	t.Parallel()

	// Token overlaps engineered per band: 6/7 = 0.857 auto-merges,
	// 3/4 = 0.75 is flagged, 4/6 = 0.667 stays a candidate.
	events := []Event{
		{EventID: 1, Label: "alpha bravo charlie delta echo foxtrot golf"},
		{EventID: 2, Label: "alpha bravo charlie delta echo foxtrot"},
		{EventID: 10, Label: "kilo lima mike november"},
		{EventID: 11, Label: "kilo lima mike"},
		{EventID: 20, Label: "oscar papa quebec romeo sierra"},
		{EventID: 21, Label: "oscar papa quebec romeo victor"},
	}

	plan := BuildPlan(events, testCfg)

	ids := clusterIDs(plan)
	if len(ids) != 1 || !containsID(ids[0], 1) || !containsID(ids[0], 2) {
		t.Errorf("auto-merge clusters = %v, want only {1,2}", ids)
	}
	if len(plan.Flags) != 1 || plan.Flags[0].Left != 10 || plan.Flags[0].Right != 11 {
		t.Errorf("flags = %v, want the (10,11) pair", plan.Flags)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Left != 20 || plan.Candidates[0].Right != 21 {
		t.Errorf("candidates = %v, want the (20,21) pair", plan.Candidates)
	}
}

func TestBuildPlanTransitiveClosure(t *testing.T) {
	t.Parallel()

	// 1-2 and 2-3 both auto-merge; 1-3 on its own only scores in the
	// review band, but closure pulls all three into one cluster and the
	// resolved pair must not surface as a flag.
	events := []Event{
		{EventID: 1, Label: "alpha bravo charlie delta echo foxtrot"},
		{EventID: 2, Label: "alpha bravo charlie delta echo foxtrot golf"},
		{EventID: 3, Label: "alpha bravo charlie delta echo foxtrot golf hotel"},
	}

	plan := BuildPlan(events, testCfg)
	ids := clusterIDs(plan)
	if len(ids) != 1 || len(ids[0]) != 3 {
		t.Fatalf("clusters = %v, want one cluster of three", ids)
	}
	if len(plan.Flags) != 0 {
		t.Errorf("flags = %v, want none for co-clustered pairs", plan.Flags)
	}
	if len(plan.Candidates) != 0 {
		t.Errorf("candidates = %v, want none for co-clustered pairs", plan.Candidates)
	}
}

func TestBuildPlanEntityAbsorbedByPhrase(t *testing.T) {
	t.Parallel()

	// The bare entity has the higher confidence, but the event phrase
	// still becomes canonical.
	events := []Event{
		{EventID: 1, Label: "wray", Confidence: 90, SourceCount: 5},
		{EventID: 2, Label: "trump fires wray", Confidence: 10, SourceCount: 1, PrimaryEntity: "wray"},
	}

	plan := BuildPlan(events, testCfg)
	if len(plan.Clusters) != 1 {
		t.Fatalf("clusters = %v, want one", clusterIDs(plan))
	}
	if plan.Clusters[0][0].EventID != 2 {
		t.Errorf("canonical = %d, want event-phrase event 2", plan.Clusters[0][0].EventID)
	}
	if len(plan.Candidates) != 0 {
		t.Errorf("candidates = %v, want the absorbed pair not to be listed", plan.Candidates)
	}
}

func TestBuildPlanCanonicalTieBreaks(t *testing.T) {
	t.Parallel()

	events := []Event{
		{EventID: 5, Label: "senate passes budget bill", Confidence: 60, SourceCount: 2},
		{EventID: 6, Label: "senate passes budget bill", Confidence: 60, SourceCount: 4},
		{EventID: 7, Label: "senate passes budget bill", Confidence: 60, SourceCount: 4},
	}

	plan := BuildPlan(events, testCfg)
	if len(plan.Clusters) != 1 || len(plan.Clusters[0]) != 3 {
		t.Fatalf("clusters = %v, want one cluster of three", clusterIDs(plan))
	}
	if got := plan.Clusters[0][0].EventID; got != 6 {
		t.Errorf("canonical = %d, want 6 (higher source count, lower id)", got)
	}
}

func TestBuildPlanEmptyPool(t *testing.T) {
	t.Parallel()

	plan := BuildPlan(nil, testCfg)
	if len(plan.Clusters) != 0 || len(plan.Flags) != 0 || len(plan.Candidates) != 0 {
		t.Errorf("empty pool produced a non-empty plan: %+v", plan)
	}
}
