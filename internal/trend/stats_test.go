package trend

import (
	"math"
	"testing"
	"time"
)

var statsNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func repeatHourly(start time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.Add(time.Duration(i)*step))
	}
	return out
}

func TestCountWindows(t *testing.T) {
	t.Parallel()

	arrivals := []time.Time{
		statsNow.Add(-30 * time.Minute),
		statsNow.Add(-2 * time.Hour),
		statsNow.Add(-5 * time.Hour),
		statsNow.Add(-12 * time.Hour),
		statsNow.Add(-23 * time.Hour),
		statsNow.Add(-48 * time.Hour),
		statsNow.Add(time.Minute), // future timestamps are ignored
	}

	counts := CountWindows(arrivals, statsNow)
	if counts.Current1h != 1 {
		t.Errorf("Current1h = %d, want 1", counts.Current1h)
	}
	if counts.Current6h != 3 {
		t.Errorf("Current6h = %d, want 3", counts.Current6h)
	}
	if counts.Current24h != 5 {
		t.Errorf("Current24h = %d, want 5", counts.Current24h)
	}
}

func TestComputeBaselineSteadyRate(t *testing.T) {
	t.Parallel()

	// One arrival per hour for the 7 days preceding the excluded trailing
	// 6h window.
	start := statsNow.Add(-baselineWindow7d)
	arrivals := repeatHourly(start, time.Hour, int(baselineWindow7d.Hours()-currentWindow6h.Hours()))

	baseline := ComputeBaseline(arrivals, statsNow)
	if math.Abs(baseline.Rate7d-1.0) > 0.05 {
		t.Errorf("Rate7d = %f, want ~1.0", baseline.Rate7d)
	}
	if baseline.SampleHours < minBaselineSampleHours {
		t.Errorf("SampleHours = %d, want >= %d", baseline.SampleHours, minBaselineSampleHours)
	}
}

func TestComputeBaselineExcludesTrailingWindow(t *testing.T) {
	t.Parallel()

	// Quiet history plus a burst entirely inside the last 6h. The burst
	// must not raise the baseline rate.
	history := repeatHourly(statsNow.Add(-6*24*time.Hour), 12*time.Hour, 10)
	burst := repeatHourly(statsNow.Add(-2*time.Hour), 5*time.Minute, 20)

	withBurst := ComputeBaseline(append(append([]time.Time{}, history...), burst...), statsNow)
	withoutBurst := ComputeBaseline(history, statsNow)

	if withBurst.Rate7d != withoutBurst.Rate7d {
		t.Errorf("burst inside trailing window changed Rate7d: %f vs %f",
			withBurst.Rate7d, withoutBurst.Rate7d)
	}
}

func TestComputeBaselineNoHistory(t *testing.T) {
	t.Parallel()

	// All arrivals inside the trailing 6h: there is no baseline sample.
	burst := repeatHourly(statsNow.Add(-3*time.Hour), 10*time.Minute, 12)
	baseline := ComputeBaseline(burst, statsNow)
	if baseline.Rate7d != 0 || baseline.Stddev7d != 0 {
		t.Errorf("baseline from burst-only arrivals = %+v, want zero rates", baseline)
	}
}

func TestVelocity(t *testing.T) {
	t.Parallel()

	counts := WindowCounts{Current6h: 12}
	baseline := Baseline{Rate7d: 0.5}
	if got := Velocity(counts, baseline); got != 1.5 {
		t.Errorf("Velocity = %f, want 1.5", got)
	}

	// Below-baseline activity yields a negative velocity.
	if got := Velocity(WindowCounts{}, baseline); got != -0.5 {
		t.Errorf("Velocity with no current activity = %f, want -0.5", got)
	}
}

func TestZScoreVelocityGuards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		velocity float64
		baseline Baseline
		want     float64
	}{
		{
			name:     "zero stddev",
			velocity: 3,
			baseline: Baseline{Stddev7d: 0, SampleHours: 100},
			want:     0,
		},
		{
			name:     "sample too small",
			velocity: 3,
			baseline: Baseline{Stddev7d: 1, SampleHours: minBaselineSampleHours - 1},
			want:     0,
		},
		{
			name:     "normal",
			velocity: 3,
			baseline: Baseline{Stddev7d: 1.5, SampleHours: 100},
			want:     2,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ZScoreVelocity(tc.velocity, tc.baseline); got != tc.want {
				t.Errorf("ZScoreVelocity = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestConfidenceScoreRange(t *testing.T) {
	t.Parallel()

	maxed := ConfidenceScore(ScoreInputs{
		SourceTypeCount: 10,
		SourceCount:     10,
		LastSeenAt:      statsNow,
		Now:             statsNow,
		Label:           "trump fires wray",
	})
	if maxed != 100 {
		t.Errorf("fully saturated inputs = %f, want 100", maxed)
	}

	floor := ConfidenceScore(ScoreInputs{Now: statsNow, Label: "wray"})
	if floor < 0 || floor > 100 {
		t.Errorf("floor score %f out of [0,100]", floor)
	}
	if floor != confidenceEntityLabelScore {
		t.Errorf("empty inputs = %f, want bare label quality %f", floor, confidenceEntityLabelScore)
	}
}

func TestConfidenceScoreRecencyDecay(t *testing.T) {
	t.Parallel()

	fresh := ConfidenceScore(ScoreInputs{
		SourceCount: 1,
		LastSeenAt:  statsNow,
		Now:         statsNow,
		Label:       "trump fires wray",
	})
	stale := ConfidenceScore(ScoreInputs{
		SourceCount: 1,
		LastSeenAt:  statsNow.Add(-recencyHalfLife),
		Now:         statsNow,
		Label:       "trump fires wray",
	})
	if stale >= fresh {
		t.Errorf("stale score %f should be below fresh score %f", stale, fresh)
	}
	wantDrop := confidenceRecencyWeight / 2
	if math.Abs((fresh-stale)-wantDrop) > 0.001 {
		t.Errorf("one half-life drop = %f, want %f", fresh-stale, wantDrop)
	}
}

func TestFlags(t *testing.T) {
	t.Parallel()

	base := FlagInputs{
		TrendingThreshold:  30,
		BreakingZThreshold: 2,
		BreakingMultiplier: 2,
	}

	cases := []struct {
		name         string
		mutate       func(*FlagInputs)
		wantTrending bool
		wantBreaking bool
	}{
		{
			name: "trending needs score and fresh activity",
			mutate: func(in *FlagInputs) {
				in.Confidence = 45
				in.Counts.Current1h = 2
			},
			wantTrending: true,
		},
		{
			name: "high score without fresh activity is not trending",
			mutate: func(in *FlagInputs) {
				in.Confidence = 90
			},
		},
		{
			name: "z-score alone breaks",
			mutate: func(in *FlagInputs) {
				in.ZScore = 2.5
			},
			wantBreaking: true,
		},
		{
			name: "corroborated surge breaks",
			mutate: func(in *FlagInputs) {
				in.SourceCount = 3
				in.Velocity = 5
				in.Baseline.Rate7d = 2
			},
			wantBreaking: true,
		},
		{
			name: "surge without corroboration does not break",
			mutate: func(in *FlagInputs) {
				in.SourceCount = 2
				in.Velocity = 5
				in.Baseline.Rate7d = 2
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := base
			tc.mutate(&in)
			gotTrending, gotBreaking := Flags(in)
			if gotTrending != tc.wantTrending || gotBreaking != tc.wantBreaking {
				t.Errorf("Flags = (%v, %v), want (%v, %v)",
					gotTrending, gotBreaking, tc.wantTrending, tc.wantBreaking)
			}
		})
	}
}

func TestCountWindowsMonotoneUnderAppend(t *testing.T) {
	t.Parallel()

	base := []time.Time{
		statsNow.Add(-30 * time.Minute),
		statsNow.Add(-3 * time.Hour),
		statsNow.Add(-20 * time.Hour),
	}
	extended := append(append([]time.Time{}, base...),
		statsNow.Add(-10*time.Minute),
		statsNow.Add(-90*time.Minute),
	)

	before := CountWindows(base, statsNow)
	after := CountWindows(extended, statsNow)
	if after.Current1h < before.Current1h ||
		after.Current6h < before.Current6h ||
		after.Current24h < before.Current24h {
		t.Errorf("counts decreased after new arrivals: before=%+v after=%+v", before, after)
	}
}
