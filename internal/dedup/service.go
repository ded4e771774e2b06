package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/metrics"
	"horse.fit/trendwatch/internal/trend"
)

// Config carries the reconcile window and decision thresholds.
type Config struct {
	Window             time.Duration
	AutoMergeThreshold float64
	ReviewThreshold    float64
	CandidateThreshold float64
}

// Service runs the duplicate reconciliation pass over unclustered trend
// events.
type Service struct {
	pool    *db.Pool
	logger  zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

func NewService(pool *db.Pool, logger zerolog.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		pool:    pool,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// Event is one unclustered trend event in the reconcile pool.
type Event struct {
	EventID       int64
	Label         string
	PrimaryEntity string
	Confidence    float64
	SourceCount   int
	EvidenceCount int
	Current1h     int
	Current6h     int
	Current24h    int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// Pair is one compared event pair with its similarity score.
type Pair struct {
	Left       int64
	Right      int64
	Similarity float64
	Reason     string
}

// Plan is the outcome of the pure reconcile computation: which events merge
// into which cluster, which pairs are flagged for review, and which scored
// in the candidate band.
type Plan struct {
	Clusters   [][]ClusterMember
	Flags      []Pair
	Candidates []Pair
}

// ClusterMember pairs an event with the similarity that pulled it into its
// cluster. The first member of each cluster slice is the canonical event.
type ClusterMember struct {
	EventID    int64
	Similarity float64
}

const (
	reasonExactLabel      = "exact_label"
	reasonNearLabel       = "near_label"
	reasonEntityContained = "entity_contained"
)

// BuildPlan computes the merge plan for a pool of unclustered events. Three
// passes feed a union-find so transitive duplicates collapse into one
// cluster: identical normalized labels, near-duplicate labels found via
// shingle buckets, and entity-only labels absorbed by an event phrase that
// names the same entity.
func BuildPlan(events []Event, cfg Config) Plan {
	byID := make(map[int64]Event, len(events))
	for _, e := range events {
		byID[e.EventID] = e
	}

	uf := newUnionFind()
	memberSim := make(map[int64]float64)
	var plan Plan

	merge := func(p Pair) {
		uf.union(p.Left, p.Right)
		if p.Similarity > memberSim[p.Left] {
			memberSim[p.Left] = p.Similarity
		}
		if p.Similarity > memberSim[p.Right] {
			memberSim[p.Right] = p.Similarity
		}
	}

	compared := make(map[[2]int64]struct{})
	consider := func(left, right Event, reason string) {
		key := orderedPair(left.EventID, right.EventID)
		if _, done := compared[key]; done {
			return
		}
		compared[key] = struct{}{}

		sim := LabelSimilarity(left.Label, right.Label)
		p := Pair{Left: key[0], Right: key[1], Similarity: sim, Reason: reason}
		switch {
		case sim >= cfg.AutoMergeThreshold:
			merge(p)
		case sim >= cfg.ReviewThreshold:
			plan.Flags = append(plan.Flags, p)
		case sim >= cfg.CandidateThreshold:
			plan.Candidates = append(plan.Candidates, p)
		}
	}

	// Exact pass: identical normalized labels merge without scoring.
	byLabel := make(map[string][]int64)
	for _, e := range events {
		label := trend.NormalizeLabel(e.Label)
		byLabel[label] = append(byLabel[label], e.EventID)
	}
	for _, ids := range byLabel {
		for i := 1; i < len(ids); i++ {
			key := orderedPair(ids[0], ids[i])
			compared[key] = struct{}{}
			merge(Pair{Left: key[0], Right: key[1], Similarity: 1, Reason: reasonExactLabel})
		}
	}

	// Entity pass: a bare entity event folds into an event phrase that
	// mentions it, regardless of how low the label overlap scores.
	for _, bare := range events {
		if !trend.IsEntityOnly(bare.Label) {
			continue
		}
		bareLabel := trend.NormalizeLabel(bare.Label)
		for _, phrase := range events {
			if phrase.EventID == bare.EventID || !trend.IsEventPhrase(phrase.Label) {
				continue
			}
			if phrase.PrimaryEntity == bareLabel || trend.ContainsWord(phrase.Label, bareLabel) {
				key := orderedPair(bare.EventID, phrase.EventID)
				compared[key] = struct{}{}
				merge(Pair{
					Left:       key[0],
					Right:      key[1],
					Similarity: LabelSimilarity(bare.Label, phrase.Label),
					Reason:     reasonEntityContained,
				})
			}
		}
	}

	// Near pass: only events sharing a token-pair shingle are compared.
	buckets := make(map[string][]int64)
	for _, e := range events {
		for _, key := range shingleKeys(e.Label) {
			buckets[key] = append(buckets[key], e.EventID)
		}
	}
	for _, ids := range buckets {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				consider(byID[ids[i]], byID[ids[j]], reasonNearLabel)
			}
		}
	}

	// Transitive closure can put both ends of a review or candidate pair
	// into the same cluster; those pairs are resolved, not reviewable.
	plan.Flags = dropCoClustered(plan.Flags, uf)
	plan.Candidates = dropCoClustered(plan.Candidates, uf)

	for _, members := range uf.groups() {
		cluster := make([]ClusterMember, 0, len(members))
		for _, id := range members {
			cluster = append(cluster, ClusterMember{EventID: id, Similarity: memberSim[id]})
		}
		sortCanonicalFirst(cluster, byID)
		plan.Clusters = append(plan.Clusters, cluster)
	}
	sort.Slice(plan.Clusters, func(i, j int) bool {
		return plan.Clusters[i][0].EventID < plan.Clusters[j][0].EventID
	})
	sortPairs(plan.Flags)
	sortPairs(plan.Candidates)
	return plan
}

// sortCanonicalFirst orders a cluster so its canonical event leads: an
// event-phrase label beats a bare entity, then higher confidence, then
// higher source count, then the older event id for determinism.
func sortCanonicalFirst(cluster []ClusterMember, byID map[int64]Event) {
	sort.Slice(cluster, func(i, j int) bool {
		a, b := byID[cluster[i].EventID], byID[cluster[j].EventID]
		aPhrase, bPhrase := trend.IsEventPhrase(a.Label), trend.IsEventPhrase(b.Label)
		if aPhrase != bPhrase {
			return aPhrase
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SourceCount != b.SourceCount {
			return a.SourceCount > b.SourceCount
		}
		return a.EventID < b.EventID
	})
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Left != pairs[j].Left {
			return pairs[i].Left < pairs[j].Left
		}
		return pairs[i].Right < pairs[j].Right
	})
}

func dropCoClustered(pairs []Pair, uf *unionFind) []Pair {
	kept := pairs[:0]
	for _, p := range pairs {
		if uf.find(p.Left) == uf.find(p.Right) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func orderedPair(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	PoolSize   int
	Clusters   int
	Merged     int
	Flagged    int
	Candidates int
}

// Reconcile loads the unclustered events seen within the configured window,
// computes the merge plan and applies it. Cluster assignment uses a
// compare-and-set on cluster_id so a concurrent pass never reassigns an
// already-merged event; rerunning over an already-reconciled pool is a
// no-op.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if s == nil || s.pool == nil {
		return ReconcileResult{}, fmt.Errorf("dedup service is not initialized")
	}

	now := globaltime.UTC()
	events, err := s.loadPool(ctx, now.Add(-s.cfg.Window))
	if err != nil {
		return ReconcileResult{}, err
	}

	plan := BuildPlan(events, s.cfg)
	result := ReconcileResult{
		PoolSize:   len(events),
		Flagged:    len(plan.Flags),
		Candidates: len(plan.Candidates),
	}

	byID := make(map[int64]Event, len(events))
	for _, e := range events {
		byID[e.EventID] = e
	}

	for _, cluster := range plan.Clusters {
		merged, err := s.applyCluster(ctx, cluster, byID, now)
		if err != nil {
			return result, err
		}
		if merged > 0 {
			result.Clusters++
			result.Merged += merged
			s.countDecisions("auto_merge", merged)
		}
	}

	for _, flag := range plan.Flags {
		if err := s.insertFlag(ctx, flag, now); err != nil {
			return result, err
		}
	}
	s.countDecisions("flag", len(plan.Flags))

	for _, candidate := range plan.Candidates {
		s.logger.Debug().
			Int64("left_event_id", candidate.Left).
			Int64("right_event_id", candidate.Right).
			Float64("similarity", candidate.Similarity).
			Str("reason", candidate.Reason).
			Msg("dedup candidate below review threshold")
	}
	s.countDecisions("candidate", len(plan.Candidates))

	return result, nil
}

func (s *Service) countDecisions(decision string, n int) {
	if s.metrics == nil || n <= 0 {
		return
	}
	s.metrics.DedupDecisions.WithLabelValues(decision).Add(float64(n))
}

func (s *Service) loadPool(ctx context.Context, since time.Time) ([]Event, error) {
	const q = `
SELECT
	event_id,
	canonical_label,
	COALESCE(primary_entity, ''),
	confidence_score,
	source_count,
	evidence_count,
	current_1h,
	current_6h,
	current_24h,
	first_seen_at,
	last_seen_at
FROM trend.trend_events
WHERE cluster_id IS NULL
  AND last_seen_at >= $1
ORDER BY event_id
`
	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("query dedup pool: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.EventID,
			&e.Label,
			&e.PrimaryEntity,
			&e.Confidence,
			&e.SourceCount,
			&e.EvidenceCount,
			&e.Current1h,
			&e.Current6h,
			&e.Current24h,
			&e.FirstSeenAt,
			&e.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan dedup pool row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dedup pool: %w", err)
	}
	return events, nil
}

// applyCluster persists one planned cluster. Returns the number of events
// whose cluster_id CAS succeeded; zero means every non-canonical member was
// claimed by a concurrent pass and no cluster row is created.
func (s *Service) applyCluster(ctx context.Context, cluster []ClusterMember, byID map[int64]Event, now time.Time) (int, error) {
	canonical := cluster[0]

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin dedup tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var clusterID int64
	const insertCluster = `
INSERT INTO trend.duplicate_clusters (canonical_event_id, merged_at, created_at)
VALUES ($1, $2, $2)
RETURNING cluster_id
`
	if err := tx.QueryRow(ctx, insertCluster, canonical.EventID, now).Scan(&clusterID); err != nil {
		return 0, fmt.Errorf("insert duplicate cluster: %w", err)
	}

	const casAssign = `
UPDATE trend.trend_events
SET cluster_id = $1, updated_at = $3
WHERE event_id = $2
  AND cluster_id IS NULL
`
	const insertMember = `
INSERT INTO trend.duplicate_cluster_members (cluster_id, event_id, similarity)
VALUES ($1, $2, $3)
`

	merged := 0
	folded := byID[canonical.EventID]
	for _, member := range cluster[1:] {
		tag, err := tx.Exec(ctx, casAssign, clusterID, member.EventID, now)
		if err != nil {
			return 0, fmt.Errorf("assign event %d to cluster: %w", member.EventID, err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the race: another pass already clustered this event.
			s.logger.Warn().
				Int64("event_id", member.EventID).
				Int64("cluster_id", clusterID).
				Msg("event already clustered; skipping")
			continue
		}
		if _, err := tx.Exec(ctx, insertMember, clusterID, member.EventID, member.Similarity); err != nil {
			return 0, fmt.Errorf("insert cluster member %d: %w", member.EventID, err)
		}

		e := byID[member.EventID]
		folded.SourceCount += e.SourceCount
		folded.EvidenceCount += e.EvidenceCount
		folded.Current1h += e.Current1h
		folded.Current6h += e.Current6h
		folded.Current24h += e.Current24h
		if e.FirstSeenAt.Before(folded.FirstSeenAt) {
			folded.FirstSeenAt = e.FirstSeenAt
		}
		if e.LastSeenAt.After(folded.LastSeenAt) {
			folded.LastSeenAt = e.LastSeenAt
		}
		merged++
	}

	if merged == 0 {
		// Nothing joined; drop the empty cluster.
		return 0, tx.Rollback(ctx)
	}

	if _, err := tx.Exec(ctx, insertMember, clusterID, canonical.EventID, 1.0); err != nil {
		return 0, fmt.Errorf("insert canonical member %d: %w", canonical.EventID, err)
	}

	const foldCanonical = `
UPDATE trend.trend_events
SET
	source_count = $2,
	evidence_count = $3,
	current_1h = $4,
	current_6h = $5,
	current_24h = $6,
	first_seen_at = $7,
	last_seen_at = $8,
	updated_at = $9
WHERE event_id = $1
`
	if _, err := tx.Exec(
		ctx,
		foldCanonical,
		canonical.EventID,
		folded.SourceCount,
		folded.EvidenceCount,
		folded.Current1h,
		folded.Current6h,
		folded.Current24h,
		folded.FirstSeenAt,
		folded.LastSeenAt,
		now,
	); err != nil {
		return 0, fmt.Errorf("fold counts into canonical %d: %w", canonical.EventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dedup tx: %w", err)
	}
	return merged, nil
}

func (s *Service) insertFlag(ctx context.Context, flag Pair, now time.Time) error {
	const q = `
INSERT INTO trend.duplicate_flags (left_event_id, right_event_id, similarity, reason, created_at)
SELECT $1, $2, $3, $4, $5
WHERE NOT EXISTS (
	SELECT 1 FROM trend.duplicate_flags
	WHERE left_event_id = $1 AND right_event_id = $2
)
`
	if _, err := s.pool.Exec(ctx, q, flag.Left, flag.Right, flag.Similarity, flag.Reason, now); err != nil {
		return fmt.Errorf("insert duplicate flag (%d, %d): %w", flag.Left, flag.Right, err)
	}
	return nil
}
