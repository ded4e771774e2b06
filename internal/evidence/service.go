package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/metrics"
	"horse.fit/trendwatch/internal/trend"
)

// Service is the append-only evidence store. Ingestion collaborators push
// normalized items here; re-ingesting the same (source_type, external_id)
// is a no-op.
type Service struct {
	store   store
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// store inserts one evidence row, reporting false when the
// (source_type, external_id) pair already exists.
type store interface {
	insertEvidence(ctx context.Context, row Row) (bool, error)
}

// Row is the validated, normalized form of an Item, ready for storage.
type Row struct {
	SourceType   string
	Source       string
	ExternalID   string
	Title        string
	Body         string
	EntitiesJSON string
	EventKey     string
	DiscoveredAt time.Time
	CreatedAt    time.Time
}

// Item is one normalized evidence record handed over by a collaborator.
type Item struct {
	SourceType   string
	Source       string
	ExternalID   string
	Title        string
	Body         string
	Entities     []string
	DiscoveredAt time.Time
}

// BatchResult summarizes one ingestion batch. Keys lists the distinct
// event keys touched by accepted items, for callers that want to fold the
// new evidence immediately.
type BatchResult struct {
	Accepted   int
	Duplicates int
	Rejected   int
	Keys       []string
}

func NewService(pool *db.Pool, logger zerolog.Logger, m *metrics.Metrics) *Service {
	var st store
	if pool != nil {
		st = &pgStore{pool: pool}
	}
	return newService(st, logger, m)
}

func newService(st store, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   st,
		logger:  logger,
		metrics: m,
	}
}

// IngestBatch stores a batch of evidence items. Per-item validation
// failures and duplicates are counted, never fatal to the batch; a storage
// error for one item does not abort the rest.
func (s *Service) IngestBatch(ctx context.Context, items []Item) (BatchResult, error) {
	if s == nil || s.store == nil {
		return BatchResult{}, fmt.Errorf("evidence service is not initialized")
	}

	var result BatchResult
	seenKeys := make(map[string]struct{})
	for _, item := range items {
		key, reason, err := s.ingestOne(ctx, item)
		if err != nil {
			result.Rejected++
			s.observeRejection("storage_error")
			s.logger.Error().
				Err(err).
				Str("source_type", item.SourceType).
				Str("external_id", item.ExternalID).
				Msg("evidence insert failed; continuing batch")
			continue
		}
		switch reason {
		case outcomeInserted:
			result.Accepted++
			s.observeIngested(item.SourceType, "inserted")
			if _, ok := seenKeys[key]; !ok {
				seenKeys[key] = struct{}{}
				result.Keys = append(result.Keys, key)
			}
		case outcomeDuplicate:
			result.Duplicates++
			s.observeIngested(item.SourceType, "duplicate")
		default:
			result.Rejected++
			s.observeRejection(string(reason))
		}
	}

	s.logger.Info().
		Int("accepted", result.Accepted).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected).
		Msg("evidence batch ingested")
	return result, nil
}

type outcome string

const (
	outcomeInserted  outcome = "inserted"
	outcomeDuplicate outcome = "duplicate"

	rejectMissingTitle  outcome = "missing_title"
	rejectMissingID     outcome = "missing_external_id"
	rejectBadSourceType outcome = "bad_source_type"
)

func (s *Service) ingestOne(ctx context.Context, item Item) (string, outcome, error) {
	sourceType := strings.TrimSpace(strings.ToLower(item.SourceType))
	switch sourceType {
	case "news", "rss", "social", "other":
	default:
		return "", rejectBadSourceType, nil
	}

	externalID := strings.TrimSpace(item.ExternalID)
	if externalID == "" {
		return "", rejectMissingID, nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return "", rejectMissingTitle, nil
	}

	key, _, _ := trend.DeriveEventKey(title, item.Entities)
	if key == "" {
		return "", rejectMissingTitle, nil
	}

	discoveredAt := item.DiscoveredAt.UTC()
	if item.DiscoveredAt.IsZero() {
		discoveredAt = globaltime.UTC()
	}

	entitiesJSON, err := marshalEntities(item.Entities)
	if err != nil {
		return "", "", fmt.Errorf("marshal entities: %w", err)
	}

	inserted, err := s.store.insertEvidence(ctx, Row{
		SourceType:   sourceType,
		Source:       strings.TrimSpace(strings.ToLower(item.Source)),
		ExternalID:   externalID,
		Title:        title,
		Body:         strings.TrimSpace(item.Body),
		EntitiesJSON: entitiesJSON,
		EventKey:     key,
		DiscoveredAt: discoveredAt,
		CreatedAt:    globaltime.UTC(),
	})
	if err != nil {
		return "", "", fmt.Errorf("insert evidence %s/%s: %w", sourceType, externalID, err)
	}
	if !inserted {
		return key, outcomeDuplicate, nil
	}
	return key, outcomeInserted, nil
}

type pgStore struct {
	pool *db.Pool
}

func (p *pgStore) insertEvidence(ctx context.Context, row Row) (bool, error) {
	const q = `
INSERT INTO trend.evidence_items (
	source_type,
	source,
	external_id,
	title,
	body,
	entities,
	event_key,
	discovered_at,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
ON CONFLICT (source_type, external_id) DO NOTHING
`
	commandTag, err := p.pool.Exec(
		ctx,
		q,
		row.SourceType,
		row.Source,
		row.ExternalID,
		row.Title,
		row.Body,
		row.EntitiesJSON,
		row.EventKey,
		row.DiscoveredAt,
		row.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return commandTag.RowsAffected() > 0, nil
}

func marshalEntities(entities []string) (string, error) {
	cleaned := make([]string, 0, len(entities))
	for _, e := range entities {
		if trimmed := strings.TrimSpace(e); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Service) observeIngested(sourceType, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EvidenceIngested.WithLabelValues(strings.ToLower(strings.TrimSpace(sourceType)), result).Inc()
}

func (s *Service) observeRejection(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EvidenceRejected.WithLabelValues(reason).Inc()
}
