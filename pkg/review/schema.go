package review

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"

	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

// Proposal payload schemas, one per entity type. All share the record
// envelope; parent link requirements differ: builders and properties
// need a community, sales reps a builder. Communities stand alone.
var schemaSources = map[entities.Type]string{
	entities.TypeCommunity: `{
		"type": "object",
		"required": ["name", "type"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"type": {"const": "community"},
			"fields": {"type": "object"}
		}
	}`,
	entities.TypeBuilder: `{
		"type": "object",
		"required": ["name", "type", "community_id"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"type": {"const": "builder"},
			"community_id": {"type": "string", "minLength": 1},
			"fields": {"type": "object"}
		}
	}`,
	entities.TypeProperty: `{
		"type": "object",
		"required": ["name", "type", "community_id"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"type": {"const": "property"},
			"community_id": {"type": "string", "minLength": 1},
			"fields": {"type": "object"}
		}
	}`,
	entities.TypeSalesRep: `{
		"type": "object",
		"required": ["name", "type", "builder_id"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"type": {"const": "sales-rep"},
			"builder_id": {"type": "string", "minLength": 1},
			"fields": {"type": "object"}
		}
	}`,
}

var (
	schemaOnce sync.Once
	schemas    map[entities.Type]*jsonschema.Schema
)

func compiledSchemas() map[entities.Type]*jsonschema.Schema {
	schemaOnce.Do(func() {
		schemas = make(map[entities.Type]*jsonschema.Schema, len(schemaSources))
		for t, src := range schemaSources {
			rs := &jsonschema.Schema{}
			if err := json.Unmarshal([]byte(src), rs); err != nil {
				panic(err)
			}
			schemas[t] = rs
		}
	})
	return schemas
}

// validateProposal checks a new-entity payload against its entity
// type's schema. Violations come back as ValidationError; the caller
// leaves the change in approved so an operator can inspect it.
func validateProposal(ctx context.Context, t entities.Type, payload []byte) error {
	rs, ok := compiledSchemas()[t]
	if !ok {
		return errors.NewValidationError("entity_type", t, "no proposal schema for entity type")
	}

	verrs, err := rs.ValidateBytes(ctx, payload)
	if err != nil {
		return errors.NewValidationError("proposed", t, err.Error())
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for i, v := range verrs {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(v.Message)
		}
		return errors.NewValidationError("proposed", t, sb.String())
	}
	return nil
}
