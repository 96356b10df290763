package domain

import (
	"fmt"
	"strconv"
)

// ColumnType declares how raw edits to a column are coerced and validated.
type ColumnType string

// Supported column types. Raw input is coerced to float64 for ColumnNumber
// and passed through for ColumnString.
const (
	ColumnNumber ColumnType = "number"
	ColumnString ColumnType = "string"
)

// ReferenceField names the provenance column of reference-tracked tables.
// Rows fetched from the archetype database carry the dataset reference here;
// once a row is edited by hand the value is replaced with UserEditMarker.
const ReferenceField = "REFERENCE"

// UserEditMarker is the sentinel written into ReferenceField after an edit.
const UserEditMarker = "User - assumption"

// ColumnSpec describes one editable column.
type ColumnSpec struct {
	Type    ColumnType `json:"type"`
	Min     *float64   `json:"min,omitempty"`
	Max     *float64   `json:"max,omitempty"`
	Choices []string   `json:"choices,omitempty"`
}

// TableSchema maps column name to its spec.
type TableSchema map[string]ColumnSpec

// Schema declares the editable columns of every table. It is injected into
// the session service; scenariocore does not own the column catalogue.
type Schema map[TableName]TableSchema

// Column resolves a column spec; unknown columns default to ColumnString with
// no constraints, matching the pass-through behavior of undeclared fields.
func (s Schema) Column(table TableName, field string) (ColumnSpec, bool) {
	ts, ok := s[table]
	if !ok {
		return ColumnSpec{Type: ColumnString}, false
	}
	spec, ok := ts[field]
	if !ok {
		return ColumnSpec{Type: ColumnString}, false
	}
	return spec, true
}

// Coerce converts a raw edit into the column's declared type. Numbers accept
// numeric values and numeric strings; anything unparseable is returned
// unchanged for the validation rules to flag.
func (s Schema) Coerce(table TableName, field string, raw any) any {
	spec, _ := s.Column(table, field)
	if spec.Type != ColumnNumber {
		return raw
	}
	if f, ok := asFloat(raw); ok {
		return f
	}
	if str, ok := raw.(string); ok {
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return f
		}
	}
	return raw
}

// Validate checks one coerced value against the column's constraints.
func (spec ColumnSpec) Validate(field string, value any) error {
	switch spec.Type {
	case ColumnNumber:
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("%s: expected a number, got %T", field, value)
		}
		if spec.Min != nil && f < *spec.Min {
			return fmt.Errorf("%s: %v below minimum %v", field, f, *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return fmt.Errorf("%s: %v above maximum %v", field, f, *spec.Max)
		}
	case ColumnString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected a string, got %T", field, value)
		}
		if len(spec.Choices) > 0 {
			for _, c := range spec.Choices {
				if c == str {
					return nil
				}
			}
			return fmt.Errorf("%s: %q is not an allowed choice", field, str)
		}
	}
	return nil
}
