package trend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/metrics"
)

// Config carries the promotion thresholds, loaded from the environment.
type Config struct {
	TrendingThreshold  float64
	BreakingZThreshold float64
	BreakingMultiplier float64
}

// Service is the trend aggregation engine. It folds stored evidence into
// TrendEvent rows and recomputes their rolling statistics.
type Service struct {
	pool    *db.Pool
	logger  zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config

	keyLocks keyedMutex
}

// AggregateResult summarizes one aggregation pass.
type AggregateResult struct {
	Folded        int
	EventsUpdated int
}

func NewService(pool *db.Pool, logger zerolog.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		pool:    pool,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// ProcessPending folds evidence that has not been aggregated yet, one event
// key at a time, until limit items are folded or no pending evidence
// remains. Safe to call repeatedly: folding is driven by the aggregated_at
// stamp and the event recompute is derived entirely from the store.
func (s *Service) ProcessPending(ctx context.Context, limit int) (AggregateResult, error) {
	if s == nil || s.pool == nil {
		return AggregateResult{}, fmt.Errorf("trend service is not initialized")
	}
	if limit <= 0 {
		return AggregateResult{}, nil
	}

	var result AggregateResult
	for result.Folded < limit {
		folded, updated, err := s.foldOneKey(ctx)
		if err != nil {
			return result, err
		}
		if folded == 0 {
			break
		}
		result.Folded += folded
		if updated {
			result.EventsUpdated++
			if s.metrics != nil {
				s.metrics.EventsUpdated.Inc()
			}
		}
	}
	return result, nil
}

// RecomputeKeys refreshes the trend events for the given keys, folding any
// pending evidence for them first. Used on the synchronous push path.
func (s *Service) RecomputeKeys(ctx context.Context, keys []string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("trend service is not initialized")
	}

	for _, key := range keys {
		if err := s.recomputeKey(ctx, key); err != nil {
			// Partial-failure isolation: one event's storage error must not
			// abort the remaining keys.
			s.logger.Error().Err(err).Str("event_key", key).Msg("recompute failed; continuing")
			continue
		}
		if s.metrics != nil {
			s.metrics.EventsUpdated.Inc()
		}
	}
	return nil
}

// foldOneKey locks the key mutex before opening the transaction. The push
// path (recomputeKey) does the same, so the in-process mutex is always
// acquired before any Postgres row lock and the two paths cannot deadlock
// against each other on the same key.
func (s *Service) foldOneKey(ctx context.Context) (int, bool, error) {
	key, found, err := s.peekPendingKey(ctx)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	unlock := s.keyLocks.lock(key)
	defer unlock()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("begin aggregate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	title, entities, claimed, err := claimKeyEvidenceTx(ctx, tx, key)
	if err != nil {
		return 0, false, err
	}
	if !claimed {
		// Another worker folded the key between the peek and the claim.
		if err := tx.Commit(ctx); err != nil {
			return 0, false, fmt.Errorf("commit empty aggregate tx: %w", err)
		}
		return 0, false, nil
	}

	folded, err := markKeyAggregatedTx(ctx, tx, key, globaltime.UTC())
	if err != nil {
		return 0, false, err
	}

	if err := s.recomputeEventTx(ctx, tx, key, title, entities); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit aggregate tx: %w", err)
	}
	return folded, true, nil
}

func (s *Service) recomputeKey(ctx context.Context, key string) error {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	title, entities, found, err := latestEvidenceForKeyTx(ctx, tx, key)
	if err != nil {
		return err
	}
	if !found {
		return tx.Commit(ctx)
	}

	if _, err := markKeyAggregatedTx(ctx, tx, key, globaltime.UTC()); err != nil {
		return err
	}
	if err := s.recomputeEventTx(ctx, tx, key, title, entities); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recompute tx: %w", err)
	}
	return nil
}

type arrivalRow struct {
	At     time.Time
	Source string
	Type   string
}

func (s *Service) recomputeEventTx(ctx context.Context, tx db.Tx, key, title string, entities []string) error {
	now := globaltime.UTC()

	arrivals, err := loadArrivalsTx(ctx, tx, key, now)
	if err != nil {
		return err
	}
	if len(arrivals) == 0 {
		return nil
	}

	times := make([]time.Time, 0, len(arrivals))
	sources := make(map[string]struct{})
	types := make(map[string]struct{})
	firstSeen := arrivals[0].At
	lastSeen := arrivals[0].At
	for _, a := range arrivals {
		times = append(times, a.At)
		types[a.Type] = struct{}{}
		source := a.Source
		if source == "" {
			source = a.Type
		}
		sources[source] = struct{}{}
		if a.At.Before(firstSeen) {
			firstSeen = a.At
		}
		if a.At.After(lastSeen) {
			lastSeen = a.At
		}
	}

	counts := CountWindows(times, now)
	baseline := ComputeBaseline(times, now)
	velocity := Velocity(counts, baseline)
	zScore := ZScoreVelocity(velocity, baseline)

	_, newLabel, primaryEntity := DeriveEventKey(title, entities)

	existing, found, err := lockEventTx(ctx, tx, key)
	if err != nil {
		return err
	}

	label := newLabel
	prevVelocity := 0.0
	if found {
		label = existing.Label
		// An event-phrase label is more descriptive than a bare entity;
		// upgrade once evidence provides one.
		if IsEntityOnly(existing.Label) && IsEventPhrase(newLabel) {
			label = newLabel
		}
		prevVelocity = existing.Velocity
	}

	confidence := ConfidenceScore(ScoreInputs{
		SourceTypeCount: len(types),
		SourceCount:     len(sources),
		LastSeenAt:      lastSeen,
		Now:             now,
		Label:           label,
	})
	isTrending, isBreaking := Flags(FlagInputs{
		Counts:             counts,
		Baseline:           baseline,
		Velocity:           velocity,
		ZScore:             zScore,
		Confidence:         confidence,
		SourceCount:        len(sources),
		TrendingThreshold:  s.cfg.TrendingThreshold,
		BreakingZThreshold: s.cfg.BreakingZThreshold,
		BreakingMultiplier: s.cfg.BreakingMultiplier,
	})

	row := eventRow{
		EventKey:      key,
		Label:         label,
		PrimaryEntity: primaryEntity,
		FirstSeenAt:   firstSeen,
		LastSeenAt:    lastSeen,
		Counts:        counts,
		Baseline:      baseline,
		Velocity:      velocity,
		PrevVelocity:  prevVelocity,
		Acceleration:  velocity - prevVelocity,
		ZScore:        zScore,
		Confidence:    confidence,
		IsTrending:    isTrending,
		IsBreaking:    isBreaking,
		SourceCount:   len(sources),
		EvidenceCount: len(arrivals),
	}

	if found {
		return updateEventTx(ctx, tx, existing.EventID, row, now)
	}
	return insertEventTx(ctx, tx, row, now)
}

// peekPendingKey reads the next pending key without taking row locks, so it
// is safe to call before the keyed mutex is held.
func (s *Service) peekPendingKey(ctx context.Context) (string, bool, error) {
	const q = `
SELECT e.event_key
FROM trend.evidence_items e
WHERE e.aggregated_at IS NULL
ORDER BY e.evidence_id
LIMIT 1
`
	var key string
	err := s.pool.QueryRow(ctx, q).Scan(&key)
	if err != nil {
		if db.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("peek pending evidence: %w", err)
	}
	return key, true, nil
}

func claimKeyEvidenceTx(ctx context.Context, tx db.Tx, key string) (title string, entities []string, claimed bool, err error) {
	const q = `
SELECT e.title, e.entities
FROM trend.evidence_items e
WHERE e.event_key = $1
  AND e.aggregated_at IS NULL
ORDER BY e.evidence_id
LIMIT 1
FOR UPDATE SKIP LOCKED
`
	var entitiesRaw []byte
	err = tx.QueryRow(ctx, q, key).Scan(&title, &entitiesRaw)
	if err != nil {
		if db.IsNoRows(err) {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf("claim pending evidence for key %q: %w", key, err)
	}
	entities, err = decodeEntities(entitiesRaw)
	if err != nil {
		return "", nil, false, err
	}
	return title, entities, true, nil
}

func latestEvidenceForKeyTx(ctx context.Context, tx db.Tx, key string) (title string, entities []string, found bool, err error) {
	const q = `
SELECT e.title, e.entities
FROM trend.evidence_items e
WHERE e.event_key = $1
ORDER BY e.discovered_at DESC, e.evidence_id DESC
LIMIT 1
`
	var entitiesRaw []byte
	err = tx.QueryRow(ctx, q, key).Scan(&title, &entitiesRaw)
	if err != nil {
		if db.IsNoRows(err) {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf("load latest evidence for key %q: %w", key, err)
	}
	entities, err = decodeEntities(entitiesRaw)
	if err != nil {
		return "", nil, false, err
	}
	return title, entities, true, nil
}

func markKeyAggregatedTx(ctx context.Context, tx db.Tx, key string, now time.Time) (int, error) {
	const q = `
UPDATE trend.evidence_items
SET aggregated_at = $2
WHERE event_key = $1
  AND aggregated_at IS NULL
`
	commandTag, err := tx.Exec(ctx, q, key, now)
	if err != nil {
		return 0, fmt.Errorf("mark evidence aggregated for key %q: %w", key, err)
	}
	return int(commandTag.RowsAffected()), nil
}

func loadArrivalsTx(ctx context.Context, tx db.Tx, key string, now time.Time) ([]arrivalRow, error) {
	const q = `
SELECT e.discovered_at, e.source, e.source_type::text
FROM trend.evidence_items e
WHERE e.event_key = $1
  AND e.discovered_at >= $2
ORDER BY e.discovered_at
`
	rows, err := tx.Query(ctx, q, key, now.Add(-baselineWindow30d))
	if err != nil {
		return nil, fmt.Errorf("query arrivals for key %q: %w", key, err)
	}
	defer rows.Close()

	var arrivals []arrivalRow
	for rows.Next() {
		var a arrivalRow
		if err := rows.Scan(&a.At, &a.Source, &a.Type); err != nil {
			return nil, fmt.Errorf("scan arrival: %w", err)
		}
		a.At = a.At.UTC()
		arrivals = append(arrivals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate arrivals: %w", err)
	}
	return arrivals, nil
}

type existingEvent struct {
	EventID  int64
	Label    string
	Velocity float64
}

func lockEventTx(ctx context.Context, tx db.Tx, key string) (existingEvent, bool, error) {
	const q = `
SELECT event_id, canonical_label, velocity
FROM trend.trend_events
WHERE event_key = $1
  AND cluster_id IS NULL
FOR UPDATE
`
	var e existingEvent
	err := tx.QueryRow(ctx, q, key).Scan(&e.EventID, &e.Label, &e.Velocity)
	if err != nil {
		if db.IsNoRows(err) {
			return existingEvent{}, false, nil
		}
		return existingEvent{}, false, fmt.Errorf("lock trend event for key %q: %w", key, err)
	}
	return e, true, nil
}

type eventRow struct {
	EventKey      string
	Label         string
	PrimaryEntity string
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	Counts        WindowCounts
	Baseline      Baseline
	Velocity      float64
	PrevVelocity  float64
	Acceleration  float64
	ZScore        float64
	Confidence    float64
	IsTrending    bool
	IsBreaking    bool
	SourceCount   int
	EvidenceCount int
}

func insertEventTx(ctx context.Context, tx db.Tx, row eventRow, now time.Time) error {
	const q = `
INSERT INTO trend.trend_events (
	event_key,
	canonical_label,
	primary_entity,
	first_seen_at,
	last_seen_at,
	current_1h,
	current_6h,
	current_24h,
	baseline_7d_rate,
	baseline_7d_stddev,
	baseline_30d_rate,
	baseline_sample_hours,
	velocity,
	prev_velocity,
	acceleration,
	z_score_velocity,
	confidence_score,
	is_trending,
	is_breaking,
	source_count,
	evidence_count,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $22)
`
	_, err := tx.Exec(
		ctx,
		q,
		row.EventKey,
		row.Label,
		nullableString(row.PrimaryEntity),
		row.FirstSeenAt,
		row.LastSeenAt,
		row.Counts.Current1h,
		row.Counts.Current6h,
		row.Counts.Current24h,
		row.Baseline.Rate7d,
		row.Baseline.Stddev7d,
		row.Baseline.Rate30d,
		row.Baseline.SampleHours,
		row.Velocity,
		row.PrevVelocity,
		row.Acceleration,
		row.ZScore,
		row.Confidence,
		row.IsTrending,
		row.IsBreaking,
		row.SourceCount,
		row.EvidenceCount,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert trend event key=%q: %w", row.EventKey, err)
	}
	return nil
}

func updateEventTx(ctx context.Context, tx db.Tx, eventID int64, row eventRow, now time.Time) error {
	const q = `
UPDATE trend.trend_events
SET
	canonical_label = $2,
	primary_entity = COALESCE($3, primary_entity),
	first_seen_at = LEAST(first_seen_at, $4),
	last_seen_at = GREATEST(last_seen_at, $5),
	current_1h = $6,
	current_6h = $7,
	current_24h = $8,
	baseline_7d_rate = $9,
	baseline_7d_stddev = $10,
	baseline_30d_rate = $11,
	baseline_sample_hours = $12,
	velocity = $13,
	prev_velocity = $14,
	acceleration = $15,
	z_score_velocity = $16,
	confidence_score = $17,
	is_trending = $18,
	is_breaking = $19,
	source_count = GREATEST(source_count, $20),
	evidence_count = GREATEST(evidence_count, $21),
	updated_at = $22
WHERE event_id = $1
`
	_, err := tx.Exec(
		ctx,
		q,
		eventID,
		row.Label,
		nullableString(row.PrimaryEntity),
		row.FirstSeenAt,
		row.LastSeenAt,
		row.Counts.Current1h,
		row.Counts.Current6h,
		row.Counts.Current24h,
		row.Baseline.Rate7d,
		row.Baseline.Stddev7d,
		row.Baseline.Rate30d,
		row.Baseline.SampleHours,
		row.Velocity,
		row.PrevVelocity,
		row.Acceleration,
		row.ZScore,
		row.Confidence,
		row.IsTrending,
		row.IsBreaking,
		row.SourceCount,
		row.EvidenceCount,
		now,
	)
	if err != nil {
		return fmt.Errorf("update trend event id=%d: %w", eventID, err)
	}
	return nil
}

func decodeEntities(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entities []string
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return entities, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// keyedMutex serializes writes per event key so concurrent folds cannot
// lose counter updates for the same TrendEvent.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
