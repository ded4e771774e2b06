package relevance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScoreReturnsServiceScores(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Events["trump-fires-wray"] != "trump fires wray" {
			t.Errorf("request events = %v", req.Events)
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{
			Scores: map[string]float64{"trump-fires-wray": 42},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	scores, err := c.Score(context.Background(), map[string]string{
		"trump-fires-wray": "trump fires wray",
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scores["trump-fires-wray"] != 42 {
		t.Errorf("scores = %v, want 42 for trump-fires-wray", scores)
	}
}

func TestScoreDegradesOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	scores, err := c.Score(context.Background(), map[string]string{"k": "label"})
	if err != nil {
		t.Fatalf("Score must degrade, got error: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("scores = %v, want empty on failure", scores)
	}
}

func TestScoreUnconfigured(t *testing.T) {
	t.Parallel()

	c := NewClient("", time.Second, zerolog.Nop())
	scores, err := c.Score(context.Background(), map[string]string{"k": "label"})
	if err != nil || len(scores) != 0 {
		t.Errorf("unconfigured client = (%v, %v), want empty scores", scores, err)
	}
}

func TestScoreEmptyInput(t *testing.T) {
	t.Parallel()

	c := NewClient("http://relevance.invalid", time.Second, zerolog.Nop())
	scores, err := c.Score(context.Background(), nil)
	if err != nil || scores == nil || len(scores) != 0 {
		t.Errorf("empty input = (%v, %v), want explicit empty map", scores, err)
	}
}
