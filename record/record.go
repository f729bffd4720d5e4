// Package record implements deserialization of downloaded artifacts and
// inline payloads into schema-validated records. The default parser reads
// UTF-8 JSON; alternative encodings plug in by implementing Parser.
package record

import (
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Record is one structured record produced by the pipeline.
type Record map[string]any

// FieldType enumerates the value types a schema field can require.
type FieldType int

const (
	String FieldType = iota
	Number
	Bool
	Object
	Array
)

// String returns the lowercase name of the field type.
func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Object:
		return "object"
	case Array:
		return "array"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// UnmarshalJSON accepts the lowercase type names, so schemas can be
// declared in JSON files.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "string":
		*t = String
	case "number":
		*t = Number
	case "bool":
		*t = Bool
	case "object":
		*t = Object
	case "array":
		*t = Array
	default:
		return fmt.Errorf("unknown field type %q", name)
	}
	return nil
}

// MarshalJSON emits the lowercase type name.
func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Field describes one schema field: its name, expected type, whether it
// must be present, and the default applied when an optional field is
// absent.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
}

// Schema is the set of fields a structured record must satisfy to become
// a valid typed record. Fields not listed in the schema pass through
// unconstrained.
// Example:
//
//	schema := record.Schema{Fields: []record.Field{
//	    {Name: "id", Type: record.String, Required: true},
//	    {Name: "name", Type: record.String, Required: true},
//	    {Name: "retries", Type: record.Number, Default: float64(0)},
//	}}
type Schema struct {
	Fields []Field `json:"fields"`
}

// ErrNoData is returned when a message carries neither downloadable
// artifacts nor an inline payload.
var ErrNoData = errors.New("no data available to parse")

// SchemaError reports a field-level schema violation together with the
// failing record's position in the sequence. It aborts the whole message.
type SchemaError struct {
	Field    string // Name of the violating field
	Position int    // Zero-based record position within the message
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("record %d: field %q: %s", e.Position, e.Field, e.Reason)
}

// MalformedError reports bytes that could not be decoded at all.
type MalformedError struct {
	Source string // Path or key of the undecodable input
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed input %s: %v", e.Source, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Apply validates rec against the schema at the given sequence position,
// coercing values and filling defaults for absent optional fields. The
// record is modified in place and returned.
func (s Schema) Apply(rec Record, pos int) (Record, error) {
	for _, f := range s.Fields {
		val, present := rec[f.Name]
		if !present || val == nil {
			if f.Required {
				return nil, &SchemaError{Field: f.Name, Position: pos, Reason: "missing required field"}
			}
			if f.Default != nil {
				rec[f.Name] = f.Default
			}
			continue
		}

		coerced, ok := coerce(val, f.Type)
		if !ok {
			return nil, &SchemaError{
				Field:    f.Name,
				Position: pos,
				Reason:   fmt.Sprintf("expected %s, got %T", f.Type, val),
			}
		}
		rec[f.Name] = coerced
	}
	return rec, nil
}

// coerce checks val against the expected type, converting the string
// renditions produced by CSV input where the conversion is unambiguous.
func coerce(val any, t FieldType) (any, bool) {
	switch t {
	case String:
		s, ok := val.(string)
		return s, ok
	case Number:
		switch v := val.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			f, err := v.Float64()
			return f, err == nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			return f, err == nil
		}
		return nil, false
	case Bool:
		switch v := val.(type) {
		case bool:
			return v, true
		case string:
			b, err := strconv.ParseBool(v)
			return b, err == nil
		}
		return nil, false
	case Object:
		m, ok := val.(map[string]any)
		return m, ok
	case Array:
		a, ok := val.([]any)
		return a, ok
	}
	return nil, false
}
