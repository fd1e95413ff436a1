// Package match resolves discovered entities against existing
// system-of-record records and pending new-entity proposals. Matching
// proceeds through an ordered list of pure strategies, first success
// wins; scores are never blended across strategies.
package match

import (
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

// Strategy confidence levels.
const (
	// ConfidenceContact is assigned when a contact identifier (email,
	// website domain, phone) matches exactly one candidate.
	ConfidenceContact = 0.97
	// ConfidenceNameLocation is assigned for a case-insensitive name
	// match confirmed by the provided location fields.
	ConfidenceNameLocation = 0.92
	// ConfidenceNameOnly is the lower score when no location fields
	// were available to confirm a name match.
	ConfidenceNameOnly = 0.80
	// FuzzyFloor and FuzzyCeil bound the fuzzy strategy's scaled score.
	FuzzyFloor = 0.70
	FuzzyCeil  = 0.85
)

// Discovered is the signature of an entity found in collected data.
type Discovered struct {
	Name    string
	City    string
	State   string
	Email   string
	Phone   string
	Website string

	// Confidence is the source's overall score for this record, used
	// as the new-entity confidence when nothing matches.
	Confidence float64

	// Raw holds the full discovered payload for the audit row.
	Raw map[string]string
}

// FromFields builds a Discovered from an extraction field map.
func FromFields(fields map[string]string, confidence float64) Discovered {
	return Discovered{
		Name:       fields["name"],
		City:       fields["city"],
		State:      fields["state"],
		Email:      fields["email"],
		Phone:      fields["phone"],
		Website:    fields["website"],
		Confidence: confidence,
		Raw:        fields,
	}
}

// Result is the outcome of matching one discovered entity.
type Result struct {
	// Matched is true when exactly one candidate won.
	Matched  bool
	EntityID string

	// Pending is true when the winning candidate is a pending
	// new-entity proposal; ChangeID identifies its owning Change.
	Pending  bool
	ChangeID string

	Confidence float64
	Method     collection.MatchMethod

	// Ambiguous is true when multiple candidates tied at the winning
	// score. The match is recorded pending for manual disambiguation
	// rather than silently picking one.
	Ambiguous bool
	Tied      []entities.Candidate
}

// strategy is one matching heuristic: a pure scoring function over a
// (discovered, candidate) pair.
type strategy struct {
	method collection.MatchMethod
	score  func(d Discovered, c entities.Candidate) (float64, bool)
}

// Matcher evaluates strategies in priority order.
type Matcher struct {
	strategies []strategy
}

// New creates a matcher with the standard strategy order: contact
// identifier, exact name and location, fuzzy name with location filter.
func New() *Matcher {
	return &Matcher{
		strategies: []strategy{
			{collection.MatchContactIdentifier, scoreContactIdentifier},
			{collection.MatchExactNameAndLocation, scoreNameAndLocation},
			{collection.MatchFuzzyName, scoreFuzzyName},
		},
	}
}

// Match resolves a discovered entity against existing and pending
// candidates. When nothing matches, the caller creates the entity as
// new with the source's overall confidence.
func (m *Matcher) Match(d Discovered, entityType entities.Type, existing, pending []entities.Candidate) *Result {
	for _, s := range m.strategies {
		best, tied := bestCandidates(s, d, existing, pending)
		if len(tied) == 0 {
			continue
		}

		// Ties between an existing record and a pending proposal
		// resolve in favor of the system of record.
		if len(tied) > 1 {
			tied = preferExisting(tied)
		}

		if len(tied) > 1 {
			logging.Warn().
				Str("entity_type", string(entityType)).
				Str("name", d.Name).
				Str("method", string(s.method)).
				Int("candidates", len(tied)).
				Msg("Ambiguous entity match, deferring to manual review")
			return &Result{
				Ambiguous:  true,
				Confidence: best,
				Method:     s.method,
				Tied:       tied,
			}
		}

		winner := tied[0]
		return &Result{
			Matched:    true,
			EntityID:   winner.ID,
			Pending:    winner.Pending,
			ChangeID:   winner.ChangeID,
			Confidence: best,
			Method:     s.method,
		}
	}

	return &Result{Confidence: d.Confidence}
}

// bestCandidates runs one strategy over all candidates and returns the
// top score with every candidate that achieved it.
func bestCandidates(s strategy, d Discovered, existing, pending []entities.Candidate) (float64, []entities.Candidate) {
	var best float64
	var tied []entities.Candidate

	consider := func(c entities.Candidate) {
		score, ok := s.score(d, c)
		if !ok {
			return
		}
		switch {
		case score > best:
			best = score
			tied = append(tied[:0], c)
		case score == best:
			tied = append(tied, c)
		}
	}

	for _, c := range existing {
		consider(c)
	}
	for _, c := range pending {
		c.Pending = true
		consider(c)
	}
	return best, tied
}

// preferExisting drops pending candidates when at least one existing
// record is tied.
func preferExisting(tied []entities.Candidate) []entities.Candidate {
	var existing []entities.Candidate
	for _, c := range tied {
		if !c.Pending {
			existing = append(existing, c)
		}
	}
	if len(existing) > 0 {
		return existing
	}
	return tied
}

// scoreContactIdentifier matches on exact email, canonical website
// domain, or phone digits.
func scoreContactIdentifier(d Discovered, c entities.Candidate) (float64, bool) {
	if d.Email != "" && c.Email != "" && canonicalLocation(d.Email) == canonicalLocation(c.Email) {
		return ConfidenceContact, true
	}
	if d.Website != "" && c.Website != "" && canonicalDomain(d.Website) == canonicalDomain(c.Website) {
		return ConfidenceContact, true
	}
	if d.Phone != "" && c.Phone != "" {
		if dp, cp := canonicalPhone(d.Phone), canonicalPhone(c.Phone); dp != "" && dp == cp {
			return ConfidenceContact, true
		}
	}
	return 0, false
}

// scoreNameAndLocation matches case-insensitively on name; location
// fields, when provided on the discovered side, must agree. Location
// confirmation raises the score over a name-only match.
func scoreNameAndLocation(d Discovered, c entities.Candidate) (float64, bool) {
	if canonicalName(d.Name) == "" || canonicalName(d.Name) != canonicalName(c.Name) {
		return 0, false
	}

	located := false
	if d.City != "" {
		if canonicalLocation(d.City) != canonicalLocation(c.City) {
			return 0, false
		}
		located = true
	}
	if d.State != "" {
		if canonicalLocation(d.State) != canonicalLocation(c.State) {
			return 0, false
		}
		located = true
	}

	if located {
		return ConfidenceNameLocation, true
	}
	return ConfidenceNameOnly, true
}

// scoreFuzzyName allows partial name matches, scoped to the discovered
// location when one was provided, scaled by string similarity into
// [FuzzyFloor, FuzzyCeil].
func scoreFuzzyName(d Discovered, c entities.Candidate) (float64, bool) {
	if d.City != "" && canonicalLocation(d.City) != canonicalLocation(c.City) {
		return 0, false
	}
	if d.State != "" && canonicalLocation(d.State) != canonicalLocation(c.State) {
		return 0, false
	}

	sim := similarity(canonicalName(d.Name), canonicalName(c.Name))
	if sim < 0.5 {
		return 0, false
	}
	return FuzzyFloor + (FuzzyCeil-FuzzyFloor)*sim, true
}
