package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Highland Homes, LLC", "highland homes"},
		{"  Highland   Homes ", "highland homes"},
		{"Café Estates Inc.", "cafe estates"},
		{"Toll Brothers", "toll brothers"},
		{"D.R. Horton", "d r horton"},
		{"Lennar Corp", "lennar"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalName(tt.in), "canonicalName(%q)", tt.in)
	}
}

func TestCanonicalDomain(t *testing.T) {
	assert.Equal(t, "example.com", canonicalDomain("https://www.example.com/homes?q=1"))
	assert.Equal(t, "example.com", canonicalDomain("http://example.com"))
	assert.Equal(t, "example.com", canonicalDomain("EXAMPLE.COM"))
}

func TestCanonicalPhone(t *testing.T) {
	assert.Equal(t, "2815550142", canonicalPhone("+1 (281) 555-0142"))
	assert.Equal(t, "2815550142", canonicalPhone("281.555.0142"))
}

func TestMatchExactNameAndLocation(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "c-1", Name: "Cinco Ranch", City: "Katy", State: "TX"},
		{ID: "c-2", Name: "Cinco Ranch", City: "Austin", State: "TX"},
	}

	d := Discovered{Name: "Cinco Ranch", City: "Katy", State: "TX"}
	res := m.Match(d, entities.TypeCommunity, existing, nil)

	require.True(t, res.Matched)
	assert.Equal(t, "c-1", res.EntityID)
	assert.Equal(t, ConfidenceNameLocation, res.Confidence)
	assert.Equal(t, collection.MatchExactNameAndLocation, res.Method)
}

func TestMatchNameOnlyLowerConfidence(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "c-1", Name: "Cinco Ranch", City: "Katy", State: "TX"},
	}

	// No location on the discovered side: name still matches, at the
	// lower name-only score.
	res := m.Match(Discovered{Name: "Cinco Ranch"}, entities.TypeCommunity, existing, nil)

	require.True(t, res.Matched)
	assert.Equal(t, ConfidenceNameOnly, res.Confidence)
}

func TestMatchLocationFilterRejectsWrongCity(t *testing.T) {
	m := New()

	// A same-named community in another city must not match when the
	// discovered data carries a conflicting location.
	existing := []entities.Candidate{
		{ID: "c-plano", Name: "Willow Bend", City: "Plano", State: "TX"},
	}

	res := m.Match(Discovered{Name: "Willow Bend", City: "Frisco", State: "TX"},
		entities.TypeCommunity, existing, nil)

	assert.False(t, res.Matched)
	assert.False(t, res.Ambiguous)
}

func TestMatchContactIdentifierWinsOverName(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "b-1", Name: "Completely Different Name", Website: "https://www.highlandhomes.com"},
		{ID: "b-2", Name: "Highland Homes", City: "Dallas", State: "TX"},
	}

	d := Discovered{Name: "Highland Homes", City: "Dallas", State: "TX", Website: "highlandhomes.com"}
	res := m.Match(d, entities.TypeBuilder, existing, nil)

	require.True(t, res.Matched)
	assert.Equal(t, "b-1", res.EntityID)
	assert.Equal(t, ConfidenceContact, res.Confidence)
	assert.Equal(t, collection.MatchContactIdentifier, res.Method)
}

func TestMatchFuzzyScaledWithinBounds(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "b-1", Name: "Highland Homes of Texas", City: "Dallas", State: "TX"},
	}

	res := m.Match(Discovered{Name: "Highland Homes", City: "Dallas", State: "TX"},
		entities.TypeBuilder, existing, nil)

	require.True(t, res.Matched)
	assert.Equal(t, collection.MatchFuzzyName, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, FuzzyFloor)
	assert.LessOrEqual(t, res.Confidence, FuzzyCeil)
}

func TestMatchTieDefersToManual(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "b-1", Name: "Oak Builders", City: "Houston", State: "TX"},
		{ID: "b-2", Name: "Oak Builders", City: "Houston", State: "TX"},
	}

	res := m.Match(Discovered{Name: "Oak Builders", City: "Houston", State: "TX"},
		entities.TypeBuilder, existing, nil)

	assert.False(t, res.Matched)
	require.True(t, res.Ambiguous)
	assert.Len(t, res.Tied, 2)
}

func TestMatchTiePrefersExistingOverPending(t *testing.T) {
	m := New()

	existing := []entities.Candidate{
		{ID: "b-1", Name: "Oak Builders", City: "Houston", State: "TX"},
	}
	pending := []entities.Candidate{
		{Name: "Oak Builders", City: "Houston", State: "TX", ChangeID: "ch-1"},
	}

	res := m.Match(Discovered{Name: "Oak Builders", City: "Houston", State: "TX"},
		entities.TypeBuilder, existing, pending)

	require.True(t, res.Matched)
	assert.Equal(t, "b-1", res.EntityID)
	assert.False(t, res.Pending)
}

func TestMatchPendingProposal(t *testing.T) {
	m := New()

	pending := []entities.Candidate{
		{Name: "Oak Builders", City: "Houston", State: "TX", ChangeID: "ch-1"},
	}

	res := m.Match(Discovered{Name: "Oak Builders", City: "Houston", State: "TX"},
		entities.TypeBuilder, nil, pending)

	require.True(t, res.Matched)
	assert.True(t, res.Pending)
	assert.Equal(t, "ch-1", res.ChangeID)
	assert.Empty(t, res.EntityID)
}

func TestMatchNothingReturnsSourceConfidence(t *testing.T) {
	m := New()

	res := m.Match(Discovered{Name: "Brand New Builder", Confidence: 0.66},
		entities.TypeBuilder, nil, nil)

	assert.False(t, res.Matched)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, 0.66, res.Confidence)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("highland homes", "highland homes"))
	assert.Equal(t, 0.0, similarity("", "highland homes"))
	assert.Greater(t, similarity("highland homes", "highland homes of texas"), 0.5)
	assert.Less(t, similarity("highland homes", "oak builders"), 0.5)
}
