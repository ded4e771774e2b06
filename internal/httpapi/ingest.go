package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/trendwatch/internal/evidence"
	"horse.fit/trendwatch/internal/globaltime"
	schema "horse.fit/trendwatch/schema"
)

const (
	maxIngestBodyBytes = 4 << 20
	maxIngestBatchSize = 500

	defaultAggregateLimit = 500
)

type ingestRequest struct {
	Items []json.RawMessage `json:"items"`
}

// handleIngest accepts a batch of evidence payloads. Each item is validated
// against the payload schema independently: invalid items are reported back
// with their index while the rest of the batch proceeds.
func (s *Server) handleIngest(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBodyBytes+1))
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}
	if len(body) > maxIngestBodyBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "Request body too large", nil)
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Request body must be a JSON object with an items array", nil)
	}
	if len(req.Items) == 0 {
		return failValidation(c, map[string]string{"items": "must contain at least one item"})
	}
	if len(req.Items) > maxIngestBatchSize {
		return failValidation(c, map[string]string{
			"items": fmt.Sprintf("must contain at most %d items", maxIngestBatchSize),
		})
	}

	now := globaltime.UTC()
	items := make([]evidence.Item, 0, len(req.Items))
	itemErrors := map[string]string{}
	for i, raw := range req.Items {
		payload, err := schema.ValidateEvidencePayload(raw)
		if err != nil {
			itemErrors[strconv.Itoa(i)] = err.Error()
			continue
		}
		items = append(items, toEvidenceItem(payload, now))
	}

	result, err := s.evidence.IngestBatch(c.Request().Context(), items)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingest batch failed")
		return internalError(c, "Failed to store evidence")
	}

	if len(result.Keys) > 0 {
		if err := s.trends.RecomputeKeys(c.Request().Context(), result.Keys); err != nil {
			s.logger.Error().Err(err).Msg("recompute after ingest failed")
		}
	}

	status := http.StatusOK
	if result.Accepted > 0 {
		status = http.StatusCreated
	}
	return successWithStatus(c, status, map[string]any{
		"accepted":    result.Accepted,
		"duplicates":  result.Duplicates,
		"rejected":    result.Rejected + len(itemErrors),
		"item_errors": itemErrors,
	})
}

func toEvidenceItem(payload *schema.EvidenceItem, now time.Time) evidence.Item {
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

func (s *Server) handleJobAggregate(c echo.Context) error {
	result, err := s.trends.ProcessPending(c.Request().Context(), defaultAggregateLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("aggregate job failed")
		return internalError(c, "Aggregation failed")
	}
	return success(c, map[string]any{
		"folded":         result.Folded,
		"events_updated": result.EventsUpdated,
	})
}

func (s *Server) handleJobDedup(c echo.Context) error {
	result, err := s.dedup.Reconcile(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("dedup job failed")
		return internalError(c, "Deduplication failed")
	}
	return success(c, map[string]any{
		"pool_size":  result.PoolSize,
		"clusters":   result.Clusters,
		"merged":     result.Merged,
		"flagged":    result.Flagged,
		"candidates": result.Candidates,
	})
}

type executionItem struct {
	ExecutionUUID string     `json:"execution_uuid"`
	JobName       string     `json:"job_name"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        string     `json:"status"`
	ErrorCode     *string    `json:"error_code,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

func (s *Server) handleExecutions(c echo.Context) error {
	limit := defaultPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			return failValidation(c, map[string]string{
				"limit": fmt.Sprintf("must be between 1 and %d", maxPageSize),
			})
		}
		limit = parsed
	}

	items, err := s.queryExecutions(c.Request().Context(), c.QueryParam("job"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query executions failed")
		return internalError(c, "Failed to load executions")
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) queryExecutions(ctx context.Context, jobName string, limit int) ([]executionItem, error) {
	q := `
SELECT execution_uuid, job_name, started_at, completed_at, status, error_code, error_message
FROM trend.job_executions
`
	args := []any{}
	if jobName != "" {
		q += "WHERE job_name = $1\n"
		args = append(args, jobName)
	}
	q += fmt.Sprintf("ORDER BY started_at DESC, execution_id DESC\nLIMIT %d", limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	items := []executionItem{}
	for rows.Next() {
		var item executionItem
		if err := rows.Scan(
			&item.ExecutionUUID, &item.JobName, &item.StartedAt,
			&item.CompletedAt, &item.Status, &item.ErrorCode, &item.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return items, nil
}

type jobItem struct {
	JobName   string     `json:"job_name"`
	Cadence   string     `json:"cadence"`
	Target    string     `json:"target"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (s *Server) handleJobs(c echo.Context) error {
	const q = `
SELECT job_name, cadence, target, enabled, last_run_at, next_run_at
FROM trend.scheduled_jobs
ORDER BY job_name
`
	rows, err := s.pool.Query(c.Request().Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Msg("query jobs failed")
		return internalError(c, "Failed to load jobs")
	}
	defer rows.Close()

	items := []jobItem{}
	for rows.Next() {
		var item jobItem
		if err := rows.Scan(
			&item.JobName, &item.Cadence, &item.Target,
			&item.Enabled, &item.LastRunAt, &item.NextRunAt,
		); err != nil {
			s.logger.Error().Err(err).Msg("scan job failed")
			return internalError(c, "Failed to load jobs")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("iterate jobs failed")
		return internalError(c, "Failed to load jobs")
	}
	return success(c, map[string]any{"items": items})
}
