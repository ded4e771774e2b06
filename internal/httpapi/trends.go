package httpapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/rank"
)

type trendListItem struct {
	EventUUID       string    `json:"event_uuid"`
	EventKey        string    `json:"event_key"`
	Label           string    `json:"label"`
	PrimaryEntity   *string   `json:"primary_entity,omitempty"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	Current1h       int       `json:"current_1h"`
	Current6h       int       `json:"current_6h"`
	Current24h      int       `json:"current_24h"`
	Velocity        float64   `json:"velocity"`
	Acceleration    float64   `json:"acceleration"`
	ZScoreVelocity  float64   `json:"z_score_velocity"`
	ConfidenceScore float64   `json:"confidence_score"`
	IsTrending      bool      `json:"is_trending"`
	IsBreaking      bool      `json:"is_breaking"`
	SourceCount     int       `json:"source_count"`
	EvidenceCount   int       `json:"evidence_count"`
}

type clusterMemberItem struct {
	EventUUID  string  `json:"event_uuid"`
	EventKey   string  `json:"event_key"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

type trendDetail struct {
	Trend   trendListItem       `json:"trend"`
	Members []clusterMemberItem `json:"members,omitempty"`
}

type trendListFilter struct {
	TrendingOnly bool
	BreakingOnly bool
	Page         int
	PageSize     int
}

func (s *Server) handleTrends(c echo.Context) error {
	filter := trendListFilter{
		TrendingOnly: c.QueryParam("trending") == "true",
		BreakingOnly: c.QueryParam("breaking") == "true",
		Page:         1,
		PageSize:     defaultPageSize,
	}
	if raw := c.QueryParam("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return failValidation(c, map[string]string{"page": "must be a positive integer"})
		}
		filter.Page = page
	}
	if raw := c.QueryParam("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxPageSize {
			return failValidation(c, map[string]string{
				"page_size": fmt.Sprintf("must be between 1 and %d", maxPageSize),
			})
		}
		filter.PageSize = size
	}

	items, err := s.queryTrends(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query trends failed")
		return internalError(c, "Failed to load trends")
	}
	return success(c, map[string]any{
		"items":     items,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (s *Server) handleTrendDetail(c echo.Context) error {
	eventUUID := c.Param("event_uuid")
	if _, err := uuid.Parse(eventUUID); err != nil {
		return failValidation(c, map[string]string{"event_uuid": "must be a valid UUID"})
	}

	detail, found, err := s.queryTrendDetail(c.Request().Context(), eventUUID)
	if err != nil {
		s.logger.Error().Err(err).Str("event_uuid", eventUUID).Msg("query trend detail failed")
		return internalError(c, "Failed to load trend")
	}
	if !found {
		return failNotFound(c, "Trend not found")
	}
	return success(c, detail)
}

func (s *Server) handleActions(c echo.Context) error {
	ctx := c.Request().Context()

	limit := defaultActionLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActionLimit {
			return failValidation(c, map[string]string{
				"limit": fmt.Sprintf("must be between 1 and %d", maxActionLimit),
			})
		}
		limit = n
	}

	candidates, err := s.queryRankPool(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("query rank pool failed")
		return internalError(c, "Failed to load action candidates")
	}

	labels := make(map[string]string, len(candidates))
	for _, cand := range candidates {
		labels[cand.EventKey] = cand.Label
	}
	scores, err := s.relevance.Score(ctx, labels)
	if err != nil {
		s.logger.Warn().Err(err).Msg("relevance scoring failed; ranking without it")
		scores = map[string]float64{}
	}
	for i := range candidates {
		candidates[i].Relevance = scores[candidates[i].EventKey]
	}

	result := rank.Rank(candidates, rank.Options{
		MinConfidence: s.opts.MinConfidence,
		Limit:         limit,
	})
	return success(c, map[string]any{
		"items":     result.Items,
		"evaluated": result.Evaluated,
		"limit":     limit,
	})
}

func (s *Server) queryTrends(ctx context.Context, filter trendListFilter) ([]trendListItem, error) {
	q := `
SELECT
	event_uuid, event_key, canonical_label, primary_entity,
	first_seen_at, last_seen_at,
	current_1h, current_6h, current_24h,
	velocity, acceleration, z_score_velocity,
	confidence_score, is_trending, is_breaking,
	source_count, evidence_count
FROM trend.trend_events
WHERE cluster_id IS NULL
  AND last_seen_at >= $1
`
	args := []any{globaltime.UTC().Add(-s.opts.ActiveWindow)}
	if filter.TrendingOnly {
		q += "  AND is_trending\n"
	}
	if filter.BreakingOnly {
		q += "  AND is_breaking\n"
	}
	q += fmt.Sprintf(
		"ORDER BY confidence_score DESC, last_seen_at DESC, event_id\nLIMIT %d OFFSET %d",
		filter.PageSize, (filter.Page-1)*filter.PageSize,
	)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trend events: %w", err)
	}
	defer rows.Close()

	items := []trendListItem{}
	for rows.Next() {
		var item trendListItem
		if err := rows.Scan(
			&item.EventUUID, &item.EventKey, &item.Label, &item.PrimaryEntity,
			&item.FirstSeenAt, &item.LastSeenAt,
			&item.Current1h, &item.Current6h, &item.Current24h,
			&item.Velocity, &item.Acceleration, &item.ZScoreVelocity,
			&item.ConfidenceScore, &item.IsTrending, &item.IsBreaking,
			&item.SourceCount, &item.EvidenceCount,
		); err != nil {
			return nil, fmt.Errorf("scan trend event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend events: %w", err)
	}
	return items, nil
}

func (s *Server) queryTrendDetail(ctx context.Context, eventUUID string) (trendDetail, bool, error) {
	const q = `
SELECT
	event_id, event_uuid, event_key, canonical_label, primary_entity,
	first_seen_at, last_seen_at,
	current_1h, current_6h, current_24h,
	velocity, acceleration, z_score_velocity,
	confidence_score, is_trending, is_breaking,
	source_count, evidence_count
FROM trend.trend_events
WHERE event_uuid = $1
`
	var detail trendDetail
	var eventID int64
	err := s.pool.QueryRow(ctx, q, eventUUID).Scan(
		&eventID, &detail.Trend.EventUUID, &detail.Trend.EventKey,
		&detail.Trend.Label, &detail.Trend.PrimaryEntity,
		&detail.Trend.FirstSeenAt, &detail.Trend.LastSeenAt,
		&detail.Trend.Current1h, &detail.Trend.Current6h, &detail.Trend.Current24h,
		&detail.Trend.Velocity, &detail.Trend.Acceleration, &detail.Trend.ZScoreVelocity,
		&detail.Trend.ConfidenceScore, &detail.Trend.IsTrending, &detail.Trend.IsBreaking,
		&detail.Trend.SourceCount, &detail.Trend.EvidenceCount,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return trendDetail{}, false, nil
		}
		return trendDetail{}, false, fmt.Errorf("query trend detail: %w", err)
	}

	const membersQ = `
SELECT te.event_uuid, te.event_key, te.canonical_label, m.similarity
FROM trend.duplicate_clusters dc
JOIN trend.duplicate_cluster_members m ON m.cluster_id = dc.cluster_id
JOIN trend.trend_events te ON te.event_id = m.event_id
WHERE dc.canonical_event_id = $1
  AND m.event_id <> $1
ORDER BY m.similarity DESC, te.event_id
`
	rows, err := s.pool.Query(ctx, membersQ, eventID)
	if err != nil {
		return trendDetail{}, false, fmt.Errorf("query cluster members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m clusterMemberItem
		if err := rows.Scan(&m.EventUUID, &m.EventKey, &m.Label, &m.Similarity); err != nil {
			return trendDetail{}, false, fmt.Errorf("scan cluster member: %w", err)
		}
		detail.Members = append(detail.Members, m)
	}
	if err := rows.Err(); err != nil {
		return trendDetail{}, false, fmt.Errorf("iterate cluster members: %w", err)
	}
	return detail, true, nil
}

func (s *Server) queryRankPool(ctx context.Context) ([]rank.Candidate, error) {
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
	rows, err := s.pool.Query(ctx, q, globaltime.UTC().Add(-s.opts.ActiveWindow))
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
