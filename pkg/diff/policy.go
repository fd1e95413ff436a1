package diff

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

// FieldKind drives how values are compared.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindNumber   FieldKind = "number"
	KindCurrency FieldKind = "currency"
	KindPercent  FieldKind = "percent"
	KindContact  FieldKind = "contact"
)

// Field is one entry in an entity type's diffable field list.
type Field struct {
	Name string    `yaml:"name"`
	Kind FieldKind `yaml:"kind"`

	// Trust discounts the collected confidence for this field. Contact
	// fields are trusted less than structural facts like bedroom count.
	Trust float64 `yaml:"trust"`
}

// Policy is the fixed, ordered field list diffed for one entity type.
type Policy struct {
	EntityType entities.Type `yaml:"entity_type"`
	Fields     []Field       `yaml:"fields"`
}

// DefaultPolicies returns the compiled-in field policies per entity
// type.
func DefaultPolicies() map[entities.Type]Policy {
	return map[entities.Type]Policy{
		entities.TypeBuilder: {
			EntityType: entities.TypeBuilder,
			Fields: []Field{
				{Name: "name", Kind: KindString, Trust: 1.0},
				{Name: "website", Kind: KindContact, Trust: 0.9},
				{Name: "email", Kind: KindContact, Trust: 0.7},
				{Name: "phone", Kind: KindContact, Trust: 0.7},
				{Name: "address", Kind: KindString, Trust: 0.8},
				{Name: "city", Kind: KindString, Trust: 0.9},
				{Name: "state", Kind: KindString, Trust: 0.9},
				{Name: "description", Kind: KindString, Trust: 0.6},
			},
		},
		entities.TypeCommunity: {
			EntityType: entities.TypeCommunity,
			Fields: []Field{
				{Name: "name", Kind: KindString, Trust: 1.0},
				{Name: "city", Kind: KindString, Trust: 0.9},
				{Name: "state", Kind: KindString, Trust: 0.9},
				{Name: "zip", Kind: KindString, Trust: 0.9},
				{Name: "price_from", Kind: KindCurrency, Trust: 0.8},
				{Name: "price_to", Kind: KindCurrency, Trust: 0.8},
				{Name: "hoa_fee", Kind: KindCurrency, Trust: 0.7},
				{Name: "school_district", Kind: KindString, Trust: 0.8},
				{Name: "description", Kind: KindString, Trust: 0.6},
			},
		},
		entities.TypeProperty: {
			EntityType: entities.TypeProperty,
			Fields: []Field{
				{Name: "address", Kind: KindString, Trust: 1.0},
				{Name: "price", Kind: KindCurrency, Trust: 0.85},
				{Name: "bedrooms", Kind: KindNumber, Trust: 0.95},
				{Name: "bathrooms", Kind: KindNumber, Trust: 0.95},
				{Name: "sqft", Kind: KindNumber, Trust: 0.9},
				{Name: "lot_size", Kind: KindNumber, Trust: 0.85},
				{Name: "stories", Kind: KindNumber, Trust: 0.9},
			},
		},
		entities.TypeSalesRep: {
			EntityType: entities.TypeSalesRep,
			Fields: []Field{
				{Name: "name", Kind: KindString, Trust: 1.0},
				{Name: "email", Kind: KindContact, Trust: 0.7},
				{Name: "phone", Kind: KindContact, Trust: 0.7},
				{Name: "title", Kind: KindString, Trust: 0.8},
				{Name: "office", Kind: KindString, Trust: 0.8},
			},
		},
	}
}

// policyFile is the YAML shape of a field-policy override file.
type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies returns the default policies overlaid with any policies
// defined in the YAML file at path. Entity types absent from the file
// keep their defaults.
func LoadPolicies(path string) (map[entities.Type]Policy, error) {
	policies := DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("field-policy", "reading policy file", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewConfigError("field-policy", "parsing policy file", err)
	}

	for _, p := range file.Policies {
		if !p.EntityType.Valid() {
			return nil, errors.NewValidationError("entity_type", p.EntityType, "unknown entity type in policy file")
		}
		for i := range p.Fields {
			if p.Fields[i].Trust == 0 {
				p.Fields[i].Trust = 1.0
			}
			if p.Fields[i].Kind == "" {
				p.Fields[i].Kind = KindString
			}
		}
		policies[p.EntityType] = p
	}
	return policies, nil
}
