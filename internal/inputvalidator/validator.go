package inputvalidator

import "regexp"

var validLineEnding = regexp.MustCompile(`^.*(\S|\S\n)$`)

// Validate checks one row against the schema of ct. Columns outside the schema
// are ignored; empty optional values count as absent. A computation type with
// no schema fails every row.
func (r *Registry) Validate(row map[string]string, ct ComputationType) Result {
	var res Result
	s, ok := r.schema(ct)
	if !ok {
		res.Issues = append(res.Issues, Issue{Kind: UnknownComputationType, Value: string(ct)})
		return res
	}
	for _, field := range s.All {
		value, present := row[string(field)]
		if !present || value == "" {
			if r.isRequired(ct, field) {
				res.Issues = append(res.Issues, Issue{Kind: MissingRequiredField, Field: field})
			}
			continue
		}
		v := r.validators[field]
		if !v.Match(value) {
			res.Issues = append(res.Issues, Issue{Kind: InvalidFieldFormat, Field: field, Value: value})
		}
	}
	return res
}

// Validate checks row with the default registry.
func Validate(row map[string]string, ct ComputationType) Result {
	return defaultRegistry.Validate(row, ct)
}

// ValidLineEnding reports whether a raw line ends in a non-whitespace character,
// optionally followed by a single newline.
func ValidLineEnding(line string) bool {
	return validLineEnding.MatchString(line)
}

// ValidateLine returns a MalformedLineEnding issue for a bad raw line.
func ValidateLine(line string) error {
	if ValidLineEnding(line) {
		return nil
	}
	return Issue{Kind: MalformedLineEnding}
}
