// Package diff produces minimal field-level change proposals between an
// existing record and freshly collected data. Diffing is deterministic
// and idempotent: the same (existing, collected) pair always yields the
// same changes.
package diff

import (
	"math"
	"strconv"
	"strings"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/extract"
)

// numericTolerance is the relative tolerance under which two numeric
// values (currency, percentages, counts) are considered equal.
const numericTolerance = 0.005

// FieldChange is one proposed field-level mutation.
type FieldChange struct {
	Field      string
	OldValue   string
	NewValue   string
	Kind       collection.ChangeKind
	Confidence float64
}

// Engine diffs collected data against existing records according to
// per-entity-type field policies.
type Engine struct {
	policies map[entities.Type]Policy
}

// New creates a diff engine. With no options it uses the compiled-in
// default policies.
func New(policies map[entities.Type]Policy) *Engine {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Engine{policies: policies}
}

// Diff compares collected field values against the existing record and
// returns the minimal set of field changes. Fields absent from the
// collected data are skipped; equal values (case-insensitive for
// strings, tolerance-based for numeric kinds) are skipped.
func (e *Engine) Diff(existing *entities.Record, collected map[string]string, conf extract.Confidence) []FieldChange {
	policy, ok := e.policies[existing.Type]
	if !ok {
		return nil
	}

	var changes []FieldChange
	for _, f := range policy.Fields {
		newValue, present := collected[f.Name]
		if !present {
			continue
		}

		oldValue := existing.Field(f.Name)
		if f.Name == "name" {
			oldValue = existing.Name
		}

		change, ok := diffField(f, oldValue, newValue)
		if !ok {
			continue
		}
		change.Confidence = clamp01(conf.Field(f.Name) * f.Trust)
		changes = append(changes, change)
	}
	return changes
}

// diffField compares one field pair and reports whether a change should
// be emitted.
func diffField(f Field, oldValue, newValue string) (FieldChange, bool) {
	// Present-but-empty collected values propose a removal; absent
	// values never reach here.
	if strings.TrimSpace(newValue) == "" {
		if strings.TrimSpace(oldValue) == "" {
			return FieldChange{}, false
		}
		return FieldChange{
			Field:    f.Name,
			OldValue: oldValue,
			Kind:     collection.ChangeRemoved,
		}, true
	}

	if equalValues(f.Kind, oldValue, newValue) {
		return FieldChange{}, false
	}

	kind := collection.ChangeModified
	if strings.TrimSpace(oldValue) == "" {
		kind = collection.ChangeAdded
	}
	return FieldChange{
		Field:    f.Name,
		OldValue: oldValue,
		NewValue: newValue,
		Kind:     kind,
	}, true
}

// equalValues compares a field pair per the field kind.
func equalValues(kind FieldKind, a, b string) bool {
	switch kind {
	case KindNumber, KindCurrency, KindPercent:
		av, aok := parseNumeric(a)
		bv, bok := parseNumeric(b)
		if aok && bok {
			return withinTolerance(av, bv)
		}
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// parseNumeric parses a numeric value, tolerating currency symbols,
// separators, and percent signs.
func parseNumeric(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', '%', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// withinTolerance reports whether two numbers differ by less than the
// relative tolerance (absolute for values near zero).
func withinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff < numericTolerance
	}
	return diff/scale < numericTolerance
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
