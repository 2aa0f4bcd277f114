package inputvalidator

import (
	"fmt"
	"regexp"
	"strings"
)

// Field is a column name the computation binaries understand.
type Field string

const (
	FieldID                 Field = "id_"
	FieldConversionValue    Field = "conversion_value"
	FieldConversionTime     Field = "conversion_timestamp"
	FieldConversionMetadata Field = "conversion_metadata"
	FieldValue              Field = "value"
	FieldEventTime          Field = "event_timestamp"
)

// ComputationType selects which schema an input file is checked against.
type ComputationType string

const (
	ComputationAttribution ComputationType = "attribution"
	ComputationLift        ComputationType = "lift"
)

func ParseComputationType(value string) (ComputationType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ComputationAttribution):
		return ComputationAttribution, nil
	case string(ComputationLift):
		return ComputationLift, nil
	default:
		return "", fmt.Errorf("unsupported computation type %q", value)
	}
}

// FieldValidator is a named format predicate.
type FieldValidator struct {
	Name    string
	pattern *regexp.Regexp
}

func (v FieldValidator) Match(value string) bool {
	return v.pattern.MatchString(value)
}

var (
	UnsignedInteger = FieldValidator{Name: "unsigned_integer", pattern: regexp.MustCompile(`^[0-9]+$`)}
	EpochTimestamp  = FieldValidator{Name: "epoch_timestamp", pattern: regexp.MustCompile(`^[0-9]{10}$`)}
	Base64          = FieldValidator{Name: "base64", pattern: regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)}
)

// Schema is the field layout of one computation type.
type Schema struct {
	Type     ComputationType
	All      []Field
	Required []Field
}

// Registry holds the immutable field tables. Accessors return copies.
type Registry struct {
	validators map[Field]FieldValidator
	schemas    map[ComputationType]Schema
}

var defaultRegistry = mustBuildRegistry()

// DefaultRegistry returns the process-wide registry built at start-up.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func mustBuildRegistry() *Registry {
	r, err := NewRegistry(
		map[Field]FieldValidator{
			FieldID:                 Base64,
			FieldConversionValue:    UnsignedInteger,
			FieldConversionTime:     EpochTimestamp,
			FieldConversionMetadata: UnsignedInteger,
			FieldValue:              UnsignedInteger,
			FieldEventTime:          EpochTimestamp,
		},
		Schema{
			Type:     ComputationAttribution,
			All:      []Field{FieldID, FieldConversionValue, FieldConversionTime, FieldConversionMetadata},
			Required: []Field{FieldID, FieldConversionTime},
		},
		Schema{
			Type:     ComputationLift,
			All:      []Field{FieldID, FieldValue, FieldEventTime},
			Required: []Field{FieldID, FieldEventTime},
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry checks that every schema field has a validator and that required
// fields are a subset of all fields.
func NewRegistry(validators map[Field]FieldValidator, schemas ...Schema) (*Registry, error) {
	r := &Registry{
		validators: make(map[Field]FieldValidator, len(validators)),
		schemas:    make(map[ComputationType]Schema, len(schemas)),
	}
	for field, v := range validators {
		if v.pattern == nil {
			return nil, fmt.Errorf("validator for %q has no pattern", field)
		}
		r.validators[field] = v
	}
	for _, s := range schemas {
		if _, dup := r.schemas[s.Type]; dup {
			return nil, fmt.Errorf("duplicate schema for %q", s.Type)
		}
		all := make(map[Field]struct{}, len(s.All))
		for _, f := range s.All {
			if _, ok := r.validators[f]; !ok {
				return nil, fmt.Errorf("schema %s: field %q has no validator", s.Type, f)
			}
			all[f] = struct{}{}
		}
		for _, f := range s.Required {
			if _, ok := all[f]; !ok {
				return nil, fmt.Errorf("schema %s: required field %q not in all fields", s.Type, f)
			}
		}
		r.schemas[s.Type] = Schema{
			Type:     s.Type,
			All:      append([]Field(nil), s.All...),
			Required: append([]Field(nil), s.Required...),
		}
	}
	return r, nil
}

func (r *Registry) schema(ct ComputationType) (Schema, bool) {
	s, ok := r.schemas[ct]
	return s, ok
}

func (r *Registry) AllFields(ct ComputationType) []Field {
	s, _ := r.schema(ct)
	return append([]Field(nil), s.All...)
}

func (r *Registry) RequiredFields(ct ComputationType) []Field {
	s, _ := r.schema(ct)
	return append([]Field(nil), s.Required...)
}

func (r *Registry) Validator(f Field) (FieldValidator, bool) {
	v, ok := r.validators[f]
	return v, ok
}

func (r *Registry) isRequired(ct ComputationType, f Field) bool {
	s, _ := r.schema(ct)
	for _, req := range s.Required {
		if req == f {
			return true
		}
	}
	return false
}

// DetectComputationType infers the schema from a header row. Attribution wins
// when both timestamp columns are present.
func DetectComputationType(header []string) (ComputationType, bool) {
	hasEvent := false
	for _, h := range header {
		switch Field(strings.TrimSpace(h)) {
		case FieldConversionTime:
			return ComputationAttribution, true
		case FieldEventTime:
			hasEvent = true
		}
	}
	if hasEvent {
		return ComputationLift, true
	}
	return "", false
}
