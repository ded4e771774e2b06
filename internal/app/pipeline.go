package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/trendwatch/internal/cli"
	"horse.fit/trendwatch/internal/dedup"
	"horse.fit/trendwatch/internal/evidence"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/rank"
	"horse.fit/trendwatch/internal/relevance"
	"horse.fit/trendwatch/internal/trend"
	payloadschema "horse.fit/trendwatch/schema"
)

func newEvidenceService(rt *runtime) *evidence.Service {
	return evidence.NewService(rt.pool, rt.logger, rt.metrics)
}

func newTrendService(rt *runtime) *trend.Service {
	return trend.NewService(rt.pool, rt.logger, rt.metrics, trend.Config{
		TrendingThreshold:  rt.cfg.TrendingThreshold,
		BreakingZThreshold: rt.cfg.BreakingZThreshold,
		BreakingMultiplier: rt.cfg.BreakingMultiplier,
	})
}

func newDedupService(rt *runtime) *dedup.Service {
	return dedup.NewService(rt.pool, rt.logger, rt.metrics, dedup.Config{
		Window:             rt.cfg.DedupWindow,
		AutoMergeThreshold: rt.cfg.DedupAutoMerge,
		ReviewThreshold:    rt.cfg.DedupReview,
		CandidateThreshold: rt.cfg.DedupCandidate,
	})
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	dir := fs.String("dir", "testdata/evidence_items", "Directory containing .json evidence payload files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := collectJSONFiles(*dir, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest setup failed: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Ingest failed: no .json files found under %s\n", *dir)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	defer rt.close()

	now := globaltime.UTC()
	var items []evidence.Item
	invalid := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}
		payload, err := payloadschema.ValidateEvidencePayload(json.RawMessage(raw))
		if err != nil {
			invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}
		items = append(items, payloadToItem(payload, now))
	}

	result, err := newEvidenceService(rt).IngestBatch(ctx, items)
	if err != nil {
		rt.logger.Error().Err(err).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	if len(result.Keys) > 0 {
		if err := newTrendService(rt).RecomputeKeys(ctx, result.Keys); err != nil {
			rt.logger.Error().Err(err).Msg("recompute after ingest failed")
		}
	}

	rt.logger.Info().
		Int("files", len(files)).
		Int("accepted", result.Accepted).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected+invalid).
		Msg("ingest completed")
	fmt.Printf(
		"ingest files=%d accepted=%d duplicates=%d rejected=%d\n",
		len(files), result.Accepted, result.Duplicates, result.Rejected+invalid,
	)
	if invalid > 0 {
		return 1
	}
	return 0
}

func payloadToItem(payload *payloadschema.EvidenceItem, now time.Time) evidence.Item {
	item := evidence.Item{
		SourceType:   payload.SourceType,
		ExternalID:   payload.ExternalID,
		Title:        payload.Title,
		Entities:     payload.Entities,
		DiscoveredAt: now,
	}
	if payload.Source != nil {
		item.Source = *payload.Source
	}
	if payload.Body != nil {
		item.Body = *payload.Body
	}
	if payload.DiscoveredAt != nil {
		if at, err := time.Parse(time.RFC3339, *payload.DiscoveredAt); err == nil {
			item.DiscoveredAt = at.UTC()
		}
	}
	return item
}

func runAggregate(args []string) int {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	limit := fs.Int("limit", 1000, "Maximum pending evidence items to fold")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Aggregate failed: %v\n", err)
		return 1
	}
	defer rt.close()

	result, err := newTrendService(rt).ProcessPending(ctx, *limit)
	if err != nil {
		rt.logger.Error().Err(err).Int("limit", *limit).Msg("aggregate failed")
		fmt.Fprintf(os.Stderr, "Aggregate failed: %v\n", err)
		return 1
	}

	rt.logger.Info().
		Int("limit", *limit).
		Int("folded", result.Folded).
		Int("events_updated", result.EventsUpdated).
		Msg("aggregate completed")
	fmt.Printf("aggregate folded=%d events_updated=%d limit=%d\n", result.Folded, result.EventsUpdated, *limit)
	return 0
}

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 120*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return 1
	}
	defer rt.close()

	result, err := newDedupService(rt).Reconcile(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("dedup failed")
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return 1
	}

	rt.logger.Info().
		Int("pool_size", result.PoolSize).
		Int("clusters", result.Clusters).
		Int("merged", result.Merged).
		Int("flagged", result.Flagged).
		Int("candidates", result.Candidates).
		Msg("dedup completed")
	fmt.Printf(
		"dedup pool=%d clusters=%d merged=%d flagged=%d candidates=%d\n",
		result.PoolSize, result.Clusters, result.Merged, result.Flagged, result.Candidates,
	)
	return 0
}

func runRank(args []string) int {
	fs := flag.NewFlagSet("rank", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	top := fs.Int("top", 20, "Maximum entries to print")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *top <= 0 {
		fmt.Fprintln(os.Stderr, "--top must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rank failed: %v\n", err)
		return 1
	}
	defer rt.close()

	candidates, err := loadRankPool(ctx, rt)
	if err != nil {
		rt.logger.Error().Err(err).Msg("rank failed")
		fmt.Fprintf(os.Stderr, "Rank failed: %v\n", err)
		return 1
	}

	scorer := newScorer(rt)
	labels := make(map[string]string, len(candidates))
	for _, cand := range candidates {
		labels[cand.EventKey] = cand.Label
	}
	scores, err := scorer.Score(ctx, labels)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("relevance scoring failed; ranking without it")
		scores = map[string]float64{}
	}
	for i := range candidates {
		candidates[i].Relevance = scores[candidates[i].EventKey]
	}

	result := rank.Rank(candidates, rank.Options{
		MinConfidence: rt.cfg.MinConfidence,
		Limit:         *top,
	})
	fmt.Printf("rank evaluated=%d ranked=%d\n", result.Evaluated, len(result.Items))
	for _, item := range result.Items {
		marker := " "
		if item.Actionable {
			marker = "*"
		}
		fmt.Printf(
			"%s %6.1f  conf=%5.1f z=%+.2f sources=%d breaking=%t  %s\n",
			marker, item.RankScore, item.ConfidenceScore, item.ZScoreVelocity,
			item.SourceCount, item.IsBreaking, item.Label,
		)
	}
	return 0
}

func newScorer(rt *runtime) relevance.Scorer {
	if rt.cfg.RelevanceURL == "" {
		return relevance.Disabled{}
	}
	return relevance.NewClient(rt.cfg.RelevanceURL, rt.cfg.RelevanceTimeout, rt.logger)
}

func loadRankPool(ctx context.Context, rt *runtime) ([]rank.Candidate, error) {
	const q = `
SELECT
	event_uuid, event_key, canonical_label,
	confidence_score, z_score_velocity,
	is_trending, is_breaking, source_count, last_seen_at
FROM trend.trend_events
WHERE cluster_id IS NULL
  AND is_trending
  AND last_seen_at >= $1
`
	rows, err := rt.pool.Query(ctx, q, globaltime.UTC().Add(-rt.cfg.ActiveWindow))
	if err != nil {
		return nil, fmt.Errorf("query rank pool: %w", err)
	}
	defer rows.Close()

	var candidates []rank.Candidate
	for rows.Next() {
		var cand rank.Candidate
		if err := rows.Scan(
			&cand.EventUUID, &cand.EventKey, &cand.Label,
			&cand.ConfidenceScore, &cand.ZScoreVelocity,
			&cand.IsTrending, &cand.IsBreaking, &cand.SourceCount, &cand.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan rank candidate: %w", err)
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rank pool: %w", err)
	}
	return candidates, nil
}
