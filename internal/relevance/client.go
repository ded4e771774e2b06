// Package relevance scores trend events against audience interest via an
// external service. The scorer is advisory: when it is unconfigured or
// unreachable the pipeline proceeds with zero relevance rather than failing.
package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/retry"
)

// Scorer returns a relevance score in [0,100] per event key.
type Scorer interface {
	Score(ctx context.Context, labels map[string]string) (map[string]float64, error)
}

// Client calls the external relevance service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type scoreRequest struct {
	Events map[string]string `json:"events"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Score posts the event labels keyed by event key and returns the scores the
// service reports. Transient failures are retried; any terminal failure
// degrades to an empty map with a warning, never an error.
func (c *Client) Score(ctx context.Context, labels map[string]string) (map[string]float64, error) {
	if c == nil || c.baseURL == "" || len(labels) == 0 {
		return map[string]float64{}, nil
	}

	body, err := json.Marshal(scoreRequest{Events: labels})
	if err != nil {
		return map[string]float64{}, fmt.Errorf("encode relevance request: %w", err)
	}

	var scores map[string]float64
	err = retry.WithRetry(ctx, retry.Options{MaxRetries: 2}, func(ctx context.Context) error {
		got, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		scores = got
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Int("events", len(labels)).
			Msg("relevance scoring unavailable; proceeding without scores")
		return map[string]float64{}, nil
	}
	if scores == nil {
		scores = map[string]float64{}
	}
	return scores, nil
}

func (c *Client) post(ctx context.Context, body []byte) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relevance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call relevance service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relevance service returned %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode relevance response: %w", err)
	}
	return decoded.Scores, nil
}

// Disabled is a Scorer that always returns empty scores.
type Disabled struct{}

func (Disabled) Score(context.Context, map[string]string) (map[string]float64, error) {
	return map[string]float64{}, nil
}
