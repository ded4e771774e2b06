package trend

import (
	"math"
	"time"
)

const (
	baselineWindow7d  = 7 * 24 * time.Hour
	baselineWindow30d = 30 * 24 * time.Hour

	// currentWindow6h is excluded from the baseline so a burst in progress
	// does not inflate its own reference rate.
	currentWindow6h = 6 * time.Hour

	// minBaselineSampleHours gates z-score promotion: with less than a day
	// of history the variance estimate is noise.
	minBaselineSampleHours = 24

	recencyHalfLife = 6 * time.Hour

	confidenceDiversityWeight     = 30.0
	confidenceCorroborationWeight = 30.0
	confidenceRecencyWeight       = 25.0
	confidenceEventPhraseScore    = 15.0
	confidenceEntityLabelScore    = 6.0

	diversityCap     = 4
	corroborationCap = 5
)

// WindowCounts holds the rolling evidence counts for one event.
type WindowCounts struct {
	Current1h  int
	Current6h  int
	Current24h int
}

// Baseline holds the smoothed historical arrival rates for one event.
// Rates are per hour; Stddev7d is the standard deviation of the hourly
// counts across the sampled 7d window.
type Baseline struct {
	Rate7d      float64
	Stddev7d    float64
	Rate30d     float64
	SampleHours int
}

// CountWindows recomputes the rolling counters from raw evidence
// timestamps, equivalent to a full rescan of the store.
func CountWindows(arrivals []time.Time, now time.Time) WindowCounts {
	var counts WindowCounts
	for _, at := range arrivals {
		if at.After(now) {
			continue
		}
		age := now.Sub(at)
		if age <= time.Hour {
			counts.Current1h++
		}
		if age <= currentWindow6h {
			counts.Current6h++
		}
		if age <= 24*time.Hour {
			counts.Current24h++
		}
	}
	return counts
}

// ComputeBaseline derives the historical hourly rates from raw arrival
// timestamps. The trailing 6h is excluded from both baselines. The sample
// spans from the earliest arrival (capped at 7d/30d) up to now-6h.
func ComputeBaseline(arrivals []time.Time, now time.Time) Baseline {
	cutoff := now.Add(-currentWindow6h)

	earliest := now
	for _, at := range arrivals {
		if at.Before(earliest) {
			earliest = at
		}
	}

	sampleStart7d := now.Add(-baselineWindow7d)
	if earliest.After(sampleStart7d) {
		sampleStart7d = earliest
	}
	sampleHours := int(cutoff.Sub(sampleStart7d).Hours())
	if sampleHours <= 0 {
		return Baseline{}
	}

	buckets := make([]int, sampleHours)
	var count30d int
	for _, at := range arrivals {
		if !at.Before(cutoff) {
			continue
		}
		if at.After(now.Add(-baselineWindow30d)) {
			count30d++
		}
		if at.Before(sampleStart7d) {
			continue
		}
		idx := int(at.Sub(sampleStart7d).Hours())
		if idx >= 0 && idx < sampleHours {
			buckets[idx]++
		}
	}

	var sum int
	for _, c := range buckets {
		sum += c
	}
	mean := float64(sum) / float64(sampleHours)

	var variance float64
	for _, c := range buckets {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(sampleHours)

	sampleStart30d := now.Add(-baselineWindow30d)
	if earliest.After(sampleStart30d) {
		sampleStart30d = earliest
	}
	hours30d := cutoff.Sub(sampleStart30d).Hours()
	var rate30d float64
	if hours30d > 0 {
		rate30d = float64(count30d) / hours30d
	}

	return Baseline{
		Rate7d:      mean,
		Stddev7d:    math.Sqrt(variance),
		Rate30d:     rate30d,
		SampleHours: sampleHours,
	}
}

// Velocity is the current 6h arrival rate minus the 7d baseline rate,
// both expressed per hour.
func Velocity(counts WindowCounts, baseline Baseline) float64 {
	return float64(counts.Current6h)/currentWindow6h.Hours() - baseline.Rate7d
}

// ZScoreVelocity expresses velocity in standard deviations of the baseline.
// Returns 0 when the baseline variance is degenerate or the sample is too
// small, which also disqualifies the event from z-score promotion.
func ZScoreVelocity(velocity float64, baseline Baseline) float64 {
	if baseline.Stddev7d == 0 || baseline.SampleHours < minBaselineSampleHours {
		return 0
	}
	return velocity / baseline.Stddev7d
}

// ScoreInputs feeds ConfidenceScore.
type ScoreInputs struct {
	SourceTypeCount int
	SourceCount     int
	LastSeenAt      time.Time
	Now             time.Time
	Label           string
}

// ConfidenceScore combines source diversity, corroboration, recency decay
// and label quality into a 0-100 score.
func ConfidenceScore(in ScoreInputs) float64 {
	diversity := float64(min(in.SourceTypeCount, diversityCap)) / diversityCap
	corroboration := float64(min(in.SourceCount, corroborationCap)) / corroborationCap

	var recency float64
	if !in.LastSeenAt.IsZero() && !in.LastSeenAt.After(in.Now) {
		age := in.Now.Sub(in.LastSeenAt)
		recency = math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
	}

	labelQuality := confidenceEntityLabelScore
	if IsEventPhrase(in.Label) {
		labelQuality = confidenceEventPhraseScore
	}

	score := confidenceDiversityWeight*diversity +
		confidenceCorroborationWeight*corroboration +
		confidenceRecencyWeight*recency +
		labelQuality

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Flags derives the trending/breaking markers for an event.
type FlagInputs struct {
	Counts             WindowCounts
	Baseline           Baseline
	Velocity           float64
	ZScore             float64
	Confidence         float64
	SourceCount        int
	TrendingThreshold  float64
	BreakingZThreshold float64
	BreakingMultiplier float64
}

func Flags(in FlagInputs) (isTrending, isBreaking bool) {
	isTrending = in.Confidence >= in.TrendingThreshold && in.Counts.Current1h > 0
	isBreaking = in.ZScore >= in.BreakingZThreshold ||
		(in.SourceCount >= 3 && in.Velocity > in.Baseline.Rate7d*in.BreakingMultiplier)
	return isTrending, isBreaking
}
