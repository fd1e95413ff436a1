package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

func TestParseResultFlatConfidence(t *testing.T) {
	data := []byte(`{
		"fields": {"name": "Highland Homes", "city": "Dallas"},
		"confidence": 0.9,
		"source_urls": ["https://example.com"]
	}`)

	res, err := ParseResult(data)
	require.NoError(t, err)
	assert.Equal(t, 0.9, res.Confidence.Overall)
	assert.Nil(t, res.Confidence.PerField)
	assert.Equal(t, "Highland Homes", res.Fields["name"])
	assert.Equal(t, []string{"https://example.com"}, res.SourceURLs)
}

func TestParseResultNestedConfidence(t *testing.T) {
	data := []byte(`{
		"fields": {"name": "Highland Homes"},
		"confidence": {"overall": 0.85, "per_field": {"name": 0.95, "phone": 1.4}}
	}`)

	res, err := ParseResult(data)
	require.NoError(t, err)
	assert.Equal(t, 0.85, res.Confidence.Overall)
	assert.Equal(t, 0.95, res.Confidence.PerField["name"])

	// Out-of-range scores clamp at the boundary.
	assert.Equal(t, 1.0, res.Confidence.PerField["phone"])
}

func TestConfidenceFieldFallback(t *testing.T) {
	c := Confidence{Overall: 0.8, PerField: map[string]float64{"name": 0.95}}
	assert.Equal(t, 0.95, c.Field("name"))
	assert.Equal(t, 0.8, c.Field("city"))

	empty := Confidence{Overall: 0.7}
	assert.Equal(t, 0.7, empty.Field("anything"))
}

func TestParseResultDiscoveredEntities(t *testing.T) {
	data := []byte(`{
		"fields": {"name": "Cinco Ranch"},
		"confidence": 0.9,
		"entities": [
			{"entity_type": "builder", "fields": {"name": "Highland Homes"}, "confidence": 0.8},
			{"entity_type": "spaceship", "fields": {"name": "nope"}, "confidence": 0.9},
			{"entity_type": "sales-rep", "fields": {"name": "Dana Reyes"}, "confidence": {"overall": 0.75}}
		]
	}`)

	res, err := ParseResult(data)
	require.NoError(t, err)

	// Unknown sub-entity types are dropped, not fatal.
	require.Len(t, res.Entities, 2)
	assert.Equal(t, entities.TypeBuilder, res.Entities[0].EntityType)
	assert.Equal(t, 0.8, res.Entities[0].Confidence.Overall)
	assert.Equal(t, entities.TypeSalesRep, res.Entities[1].EntityType)
	assert.Equal(t, 0.75, res.Entities[1].Confidence.Overall)
}

func TestParseResultInvalidJSON(t *testing.T) {
	_, err := ParseResult([]byte("not json"))
	assert.Error(t, err)
}

func TestNewGeminiExtractorRequiresKey(t *testing.T) {
	_, err := NewGeminiExtractor("")
	assert.Error(t, err)

	g, err := NewGeminiExtractor("test-key", WithModel("gemini-x"), WithTimeout(DefaultTimeout))
	require.NoError(t, err)
	assert.Equal(t, "gemini-x", g.model)
}
