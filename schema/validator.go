package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed evidence_item.schema.json
var evidenceItemSchemaJSON string

type EvidenceItem struct {
	PayloadVersion string         `json:"payload_version"`
	SourceType     string         `json:"source_type"`
	Source         *string        `json:"source,omitempty"`
	ExternalID     string         `json:"external_id"`
	Title          string         `json:"title"`
	Body           *string        `json:"body,omitempty"`
	Entities       []string       `json:"entities,omitempty"`
	DiscoveredAt   *string        `json:"discovered_at,omitempty"`
	URL            *string        `json:"url,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateEvidencePayload(payload json.RawMessage) (*EvidenceItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item EvidenceItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("evidence_item.schema.json", strings.NewReader(evidenceItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("evidence_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *EvidenceItem) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	switch strings.TrimSpace(item.SourceType) {
	case "news", "rss", "social", "other":
	default:
		return fmt.Errorf("source_type must be one of news, rss, social, other")
	}
	if strings.TrimSpace(item.ExternalID) == "" {
		return fmt.Errorf("external_id must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}

	if item.URL != nil {
		trimmed := strings.TrimSpace(*item.URL)
		if trimmed == "" {
			return fmt.Errorf("url must not be empty")
		}
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return fmt.Errorf("url is not a valid URI: %w", err)
		}
	}
	if item.DiscoveredAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.DiscoveredAt)); err != nil {
			return fmt.Errorf("discovered_at must be RFC3339: %w", err)
		}
	}
	for i, entity := range item.Entities {
		if strings.TrimSpace(entity) == "" {
			return fmt.Errorf("entities[%d] must not be empty", i)
		}
	}

	return nil
}
