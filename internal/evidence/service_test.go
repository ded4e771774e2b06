package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memStore struct {
	rows  map[[2]string]Row
	errOn string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[[2]string]Row)}
}

func (m *memStore) insertEvidence(_ context.Context, row Row) (bool, error) {
	if m.errOn != "" && row.ExternalID == m.errOn {
		return false, errors.New("storage down")
	}
	id := [2]string{row.SourceType, row.ExternalID}
	if _, ok := m.rows[id]; ok {
		return false, nil
	}
	m.rows[id] = row
	return true, nil
}

func newTestService(st store) *Service {
	return newService(st, zerolog.Nop(), nil)
}

func TestIngestBatchIdempotent(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := newTestService(st)
	item := Item{
		SourceType:   "news",
		ExternalID:   "reuters-123",
		Title:        "Senate Passes Infrastructure Bill",
		Entities:     []string{"Senate"},
		DiscoveredAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}

	first, err := s.IngestBatch(context.Background(), []Item{item, item})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if first.Accepted != 1 || first.Duplicates != 1 || first.Rejected != 0 {
		t.Errorf("first batch = %+v, want one accepted, one duplicate", first)
	}
	if len(first.Keys) != 1 {
		t.Errorf("keys = %v, want exactly one touched key", first.Keys)
	}

	second, err := s.IngestBatch(context.Background(), []Item{item})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if second.Accepted != 0 || second.Duplicates != 1 {
		t.Errorf("second batch = %+v, want a pure duplicate no-op", second)
	}
	if len(st.rows) != 1 {
		t.Errorf("stored rows = %d, want 1", len(st.rows))
	}
}

func TestIngestBatchSameIDAcrossSourceTypes(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := newTestService(st)
	items := []Item{
		{SourceType: "news", ExternalID: "shared-1", Title: "Port Strike Halts Shipping"},
		{SourceType: "rss", ExternalID: "shared-1", Title: "Port Strike Halts Shipping"},
	}

	result, err := s.IngestBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if result.Accepted != 2 || result.Duplicates != 0 {
		t.Errorf("result = %+v, want both accepted; identity is (source_type, external_id)", result)
	}
}

func TestIngestBatchRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		item Item
	}{
		{name: "bad source type", item: Item{SourceType: "carrier-pigeon", ExternalID: "x", Title: "t"}},
		{name: "missing external id", item: Item{SourceType: "news", ExternalID: "  ", Title: "t"}},
		{name: "missing title", item: Item{SourceType: "news", ExternalID: "x", Title: " "}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestService(newMemStore())
			result, err := s.IngestBatch(context.Background(), []Item{tc.item})
			if err != nil {
				t.Fatalf("IngestBatch: %v", err)
			}
			if result.Rejected != 1 || result.Accepted != 0 {
				t.Errorf("result = %+v, want one rejection", result)
			}
		})
	}
}

func TestIngestBatchStorageErrorIsolated(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.errOn = "broken-2"
	s := newTestService(st)
	items := []Item{
		{SourceType: "news", ExternalID: "ok-1", Title: "Wildfire Spreads North"},
		{SourceType: "news", ExternalID: "broken-2", Title: "Wildfire Spreads North"},
		{SourceType: "news", ExternalID: "ok-3", Title: "Wildfire Spreads North"},
	}

	result, err := s.IngestBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if result.Accepted != 2 || result.Rejected != 1 {
		t.Errorf("result = %+v, want the failing item isolated", result)
	}
}
