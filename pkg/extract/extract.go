// Package extract is the boundary to the external unstructured-data
// extraction service. It turns a free-form lookup query into structured,
// field-labeled data with a normalized confidence estimate, treating the
// service as an unreliable, rate-limited, costed dependency.
package extract

import (
	"context"
	"encoding/json"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

// Query describes what to look up.
type Query struct {
	// Text is the free-form description of the target, e.g. a builder
	// name or a community and city.
	Text string

	// EntityType scopes the extraction to one entity type's fields.
	EntityType entities.Type

	// LocationHint narrows the search, e.g. "Katy, TX". Optional.
	LocationHint string
}

// Confidence is the normalized confidence shape every downstream
// component consumes. The gateway accepts either a flat float or a
// nested object from the source and always produces this structure, so
// nothing after the boundary branches on shape.
type Confidence struct {
	Overall  float64            `json:"overall"`
	PerField map[string]float64 `json:"per_field,omitempty"`
}

// Field returns the per-field confidence for name, falling back to the
// overall score when the source did not provide one.
func (c Confidence) Field(name string) float64 {
	if v, ok := c.PerField[name]; ok {
		return clamp01(v)
	}
	return clamp01(c.Overall)
}

// Discovered is a sub-entity found while extracting data for the
// primary target, e.g. a builder discovered inside a community lookup.
type Discovered struct {
	EntityType entities.Type     `json:"entity_type"`
	Fields     map[string]string `json:"fields"`
	Confidence Confidence        `json:"confidence"`
}

// Result is the structured output of one extraction call.
type Result struct {
	// Fields holds the primary target's attributes.
	Fields map[string]string `json:"fields"`

	Confidence Confidence `json:"confidence"`
	SourceURLs []string   `json:"source_urls,omitempty"`

	// Entities are sub-entities discovered alongside the primary
	// target; each spawns its own match (and possibly a child job).
	Entities []Discovered `json:"entities,omitempty"`
}

// Extractor invokes the external extraction service. Implementations
// must honor ctx cancellation and return an errors.ExtractionError on
// network failure, parse failure, or rate limiting.
type Extractor interface {
	Extract(ctx context.Context, q Query) (*Result, error)
}

// rawConfidence accepts the two confidence shapes seen in source
// output: a bare number or {"overall": n, "per_field": {...}}.
type rawConfidence struct {
	Confidence
}

// UnmarshalJSON implements the shape normalization.
func (rc *rawConfidence) UnmarshalJSON(data []byte) error {
	var flat float64
	if err := json.Unmarshal(data, &flat); err == nil {
		rc.Overall = clamp01(flat)
		rc.PerField = nil
		return nil
	}

	var nested struct {
		Overall  float64            `json:"overall"`
		PerField map[string]float64 `json:"per_field"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}
	rc.Overall = clamp01(nested.Overall)
	if len(nested.PerField) > 0 {
		rc.PerField = make(map[string]float64, len(nested.PerField))
		for k, v := range nested.PerField {
			rc.PerField[k] = clamp01(v)
		}
	}
	return nil
}

// rawResult is the wire shape produced by the extraction model.
type rawResult struct {
	Fields     map[string]string `json:"fields"`
	Confidence rawConfidence     `json:"confidence"`
	SourceURLs []string          `json:"source_urls"`
	Entities   []struct {
		EntityType string            `json:"entity_type"`
		Fields     map[string]string `json:"fields"`
		Confidence rawConfidence     `json:"confidence"`
	} `json:"entities"`
}

// ParseResult decodes and normalizes a raw extraction payload.
func ParseResult(data []byte) (*Result, error) {
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	res := &Result{
		Fields:     raw.Fields,
		Confidence: raw.Confidence.Confidence,
		SourceURLs: raw.SourceURLs,
	}
	for _, e := range raw.Entities {
		t, err := entities.ParseType(e.EntityType)
		if err != nil {
			// Unknown sub-entity types are dropped, not fatal.
			continue
		}
		res.Entities = append(res.Entities, Discovered{
			EntityType: t,
			Fields:     e.Fields,
			Confidence: e.Confidence.Confidence,
		})
	}
	return res, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
