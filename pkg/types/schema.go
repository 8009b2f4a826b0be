// Package types provides the schema model for driftgate: field and schema
// value types, structural comparison, the safe-widening compatibility
// matrix, evolution diffs, and batch statistics contracts.
package types

import (
	"fmt"
	"strings"
	"time"
)

// TypeKind identifies one of the closed set of field types understood by
// the schema model.
type TypeKind string

const (
	KindInteger   TypeKind = "INTEGER"
	KindFloat     TypeKind = "FLOAT"
	KindString    TypeKind = "STRING"
	KindBoolean   TypeKind = "BOOLEAN"
	KindTimestamp TypeKind = "TIMESTAMP"
	KindDecimal   TypeKind = "DECIMAL"
	KindStruct    TypeKind = "STRUCT"
	KindArray     TypeKind = "ARRAY"
)

// Valid reports whether k is a member of the closed kind set.
func (k TypeKind) Valid() bool {
	switch k {
	case KindInteger, KindFloat, KindString, KindBoolean, KindTimestamp,
		KindDecimal, KindStruct, KindArray:
		return true
	}
	return false
}

// Primitive reports whether k is a scalar kind. STRUCT and ARRAY are the
// only composite kinds.
func (k TypeKind) Primitive() bool {
	return k.Valid() && k != KindStruct && k != KindArray
}

// Orderable reports whether values of kind k have a total order, which is
// required for range statistics (min/max).
func (k TypeKind) Orderable() bool {
	switch k {
	case KindInteger, KindFloat, KindString, KindTimestamp, KindDecimal:
		return true
	}
	return false
}

// TypeTag is the full type of a field: a kind plus the parameters some
// kinds carry (DECIMAL precision/scale, ARRAY element type, STRUCT fields).
type TypeTag struct {
	// Kind is the type constructor.
	Kind TypeKind `json:"kind"`

	// Precision is the total number of digits for DECIMAL types.
	Precision int `json:"precision,omitempty"`

	// Scale is the number of fractional digits for DECIMAL types.
	Scale int `json:"scale,omitempty"`

	// Elem is the element type for ARRAY types.
	Elem *TypeTag `json:"elem,omitempty"`

	// Fields lists the nested fields for STRUCT types.
	Fields []Field `json:"fields,omitempty"`
}

// Integer returns the INTEGER type tag.
func Integer() TypeTag { return TypeTag{Kind: KindInteger} }

// Float returns the FLOAT type tag.
func Float() TypeTag { return TypeTag{Kind: KindFloat} }

// Str returns the STRING type tag.
func Str() TypeTag { return TypeTag{Kind: KindString} }

// Boolean returns the BOOLEAN type tag.
func Boolean() TypeTag { return TypeTag{Kind: KindBoolean} }

// Timestamp returns the TIMESTAMP type tag.
func Timestamp() TypeTag { return TypeTag{Kind: KindTimestamp} }

// Decimal returns a DECIMAL type tag with the given precision and scale.
func Decimal(precision, scale int) TypeTag {
	return TypeTag{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// Array returns an ARRAY type tag over the given element type.
func Array(elem TypeTag) TypeTag {
	return TypeTag{Kind: KindArray, Elem: &elem}
}

// StructOf returns a STRUCT type tag over the given fields.
func StructOf(fields ...Field) TypeTag {
	return TypeTag{Kind: KindStruct, Fields: fields}
}

// Equal reports whether two type tags are structurally identical, including
// DECIMAL parameters and nested ARRAY/STRUCT structure.
func (t TypeTag) Equal(other TypeTag) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindDecimal:
		return t.Precision == other.Precision && t.Scale == other.Scale
	case KindArray:
		if t.Elem == nil || other.Elem == nil {
			return t.Elem == other.Elem
		}
		return t.Elem.Equal(*other.Elem)
	case KindStruct:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			a, b := t.Fields[i], other.Fields[i]
			if a.Name != b.Name || a.Nullable != b.Nullable || !a.Type.Equal(b.Type) {
				return false
			}
		}
		return true
	}
	return true
}

// String renders the tag in the form used by diff and report messages,
// e.g. "DECIMAL(10,2)" or "ARRAY<INTEGER>".
func (t TypeTag) String() string {
	switch t.Kind {
	case KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case KindArray:
		if t.Elem == nil {
			return "ARRAY<?>"
		}
		return fmt.Sprintf("ARRAY<%s>", t.Elem.String())
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "STRUCT<" + strings.Join(parts, ",") + ">"
	}
	return string(t.Kind)
}

// Validate checks the tag's internal consistency.
func (t TypeTag) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown type kind %q", t.Kind)
	}
	switch t.Kind {
	case KindDecimal:
		if t.Precision <= 0 {
			return fmt.Errorf("decimal precision must be positive, got %d", t.Precision)
		}
		if t.Scale < 0 || t.Scale > t.Precision {
			return fmt.Errorf("decimal scale %d out of range for precision %d", t.Scale, t.Precision)
		}
	case KindArray:
		if t.Elem == nil {
			return fmt.Errorf("array type missing element type")
		}
		if err := t.Elem.Validate(); err != nil {
			return fmt.Errorf("array element: %w", err)
		}
	case KindStruct:
		if len(t.Fields) == 0 {
			return fmt.Errorf("struct type has no fields")
		}
		seen := make(map[string]struct{}, len(t.Fields))
		for _, f := range t.Fields {
			if f.Name == "" {
				return fmt.Errorf("struct field has empty name")
			}
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("duplicate struct field name %q", f.Name)
			}
			seen[f.Name] = struct{}{}
			if err := f.Type.Validate(); err != nil {
				return fmt.Errorf("struct field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

// clone returns a deep copy of the tag.
func (t TypeTag) clone() TypeTag {
	out := t
	if t.Elem != nil {
		elem := t.Elem.clone()
		out.Elem = &elem
	}
	if t.Fields != nil {
		out.Fields = cloneFields(t.Fields)
	}
	return out
}

// Field is a single named column in a schema.
type Field struct {
	// Name is the field name, unique within one schema.
	Name string `json:"name"`

	// Type is the field's type tag.
	Type TypeTag `json:"type"`

	// Nullable indicates whether the field may contain NULL values.
	Nullable bool `json:"nullable"`

	// Ordinal is the field's zero-based position. The Fields slice order is
	// authoritative; Ordinal is derived metadata assigned by the registry.
	Ordinal int `json:"ordinal"`

	// Default is the textual form of the field's default value, if any.
	// Additions to an evolving schema must be nullable or carry a default.
	Default *string `json:"default,omitempty"`
}

// HasDefault reports whether the field declares a default value.
func (f Field) HasDefault() bool { return f.Default != nil }

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	out := f
	out.Type = f.Type.clone()
	if f.Default != nil {
		d := *f.Default
		out.Default = &d
	}
	return out
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// Schema is an immutable, versioned snapshot of a dataset's field
// structure. Evolution produces a new Schema; existing versions are never
// mutated.
type Schema struct {
	// Dataset is the logical dataset name the schema belongs to.
	Dataset string `json:"dataset"`

	// Version is the schema version, strictly increasing from 1.
	Version int `json:"version"`

	// Fields is the ordered field sequence.
	Fields []Field `json:"fields"`

	// CreatedAt records when the registry accepted this version.
	CreatedAt time.Time `json:"created_at"`
}

// CompareOptions controls structural schema comparison.
type CompareOptions struct {
	// IgnoreOrdinal matches fields by name instead of position, so physical
	// column reordering alone never makes two schemas unequal.
	IgnoreOrdinal bool

	// CaseInsensitive folds field names before matching.
	CaseInsensitive bool
}

// DefaultCompare is the comparison used by the default evolution policy:
// order-insensitive, case-sensitive names.
func DefaultCompare() CompareOptions {
	return CompareOptions{IgnoreOrdinal: true}
}

// FoldName applies the option's case folding to a field name.
func (o CompareOptions) FoldName(name string) string {
	if o.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	out := s
	out.Fields = cloneFields(s.Fields)
	return out
}

// FieldNames returns the field names in schema order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName looks up a field under the given comparison options.
func (s Schema) FieldByName(name string, opts CompareOptions) (Field, bool) {
	want := opts.FoldName(name)
	for _, f := range s.Fields {
		if opts.FoldName(f.Name) == want {
			return f, true
		}
	}
	return Field{}, false
}

// Equal reports structural equality of two schemas: same field count and,
// per field, same name, type, and nullability. Version, dataset name,
// timestamps, and defaults are metadata and do not participate. With
// IgnoreOrdinal unset, fields must also appear in the same positions.
func (s Schema) Equal(other Schema, opts CompareOptions) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	if !opts.IgnoreOrdinal {
		for i := range s.Fields {
			a, b := s.Fields[i], other.Fields[i]
			if opts.FoldName(a.Name) != opts.FoldName(b.Name) ||
				a.Nullable != b.Nullable || !a.Type.Equal(b.Type) {
				return false
			}
		}
		return true
	}
	byName := make(map[string]Field, len(other.Fields))
	for _, f := range other.Fields {
		byName[opts.FoldName(f.Name)] = f
	}
	if len(byName) != len(other.Fields) {
		return false
	}
	for _, a := range s.Fields {
		b, ok := byName[opts.FoldName(a.Name)]
		if !ok || a.Nullable != b.Nullable || !a.Type.Equal(b.Type) {
			return false
		}
	}
	return true
}

// Validate checks schema well-formedness: non-empty unique field names and
// valid type tags. Dataset name and version assignment are validated by the
// registry, which owns them.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field has empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if err := f.Type.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

// WithOrdinals returns a copy of fields with Ordinal set to each field's
// slice position.
func WithOrdinals(fields []Field) []Field {
	out := cloneFields(fields)
	for i := range out {
		out[i].Ordinal = i
	}
	return out
}
