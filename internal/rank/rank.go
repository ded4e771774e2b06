// Package rank turns scored trend events into an ordered action list. It is
// pure: callers load candidates and relevance scores, Rank only filters and
// sorts.
package rank

import (
	"sort"
	"time"
)

const (
	actionableConfidence  = 70.0
	actionableZScore      = 2.0
	actionableRelevance   = 25.0
	actionableSourceCount = 3

	breakingBonus = 50.0
	zScoreWeight  = 10.0
)

// Candidate is one trend event considered for ranking.
type Candidate struct {
	EventUUID       string
	EventKey        string
	Label           string
	ConfidenceScore float64
	ZScoreVelocity  float64
	IsTrending      bool
	IsBreaking      bool
	Clustered       bool
	SourceCount     int
	Relevance       float64
	LastSeenAt      time.Time
}

// Ranked is a candidate that survived filtering, annotated with its
// actionability and final rank score.
type Ranked struct {
	Candidate
	Actionable bool
	RankScore  float64
}

// Result is always non-nil; an empty Items slice is the explicit
// "nothing to act on" answer rather than an error.
type Result struct {
	Items     []Ranked
	Evaluated int
}

// Options tunes the filter floor and output size. MinConfidence is the
// admission threshold; candidates below it are never ranked. Limit caps Items
// when positive; zero means unbounded.
type Options struct {
	MinConfidence float64
	Limit         int
}

// Rank filters the candidates down to unclustered trending events above the
// confidence floor, marks each as actionable or not, and orders them:
// actionable events first, then by descending rank score, with the event key
// as the final tie-break so output is deterministic. If no candidate is
// actionable the result is explicitly empty; the ranker never pads the
// output with lower-quality rows to avoid an empty state.
func Rank(candidates []Candidate, opts Options) Result {
	result := Result{
		Items:     []Ranked{},
		Evaluated: len(candidates),
	}

	anyActionable := false
	for _, c := range candidates {
		if !c.IsTrending || c.Clustered || c.ConfidenceScore < opts.MinConfidence {
			continue
		}
		actionable := isActionable(c)
		anyActionable = anyActionable || actionable
		result.Items = append(result.Items, Ranked{
			Candidate:  c,
			Actionable: actionable,
			RankScore:  rankScore(c),
		})
	}
	if !anyActionable {
		result.Items = []Ranked{}
		return result
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		a, b := result.Items[i], result.Items[j]
		if a.Actionable != b.Actionable {
			return a.Actionable
		}
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		return a.EventKey < b.EventKey
	})
	if opts.Limit > 0 && len(result.Items) > opts.Limit {
		result.Items = result.Items[:opts.Limit]
	}
	return result
}

func isActionable(c Candidate) bool {
	return c.IsBreaking ||
		c.ConfidenceScore >= actionableConfidence ||
		c.ZScoreVelocity >= actionableZScore ||
		c.Relevance >= actionableRelevance ||
		c.SourceCount >= actionableSourceCount
}

func rankScore(c Candidate) float64 {
	score := c.ConfidenceScore + zScoreWeight*c.ZScoreVelocity
	if c.IsBreaking {
		score += breakingBonus
	}
	return score
}
