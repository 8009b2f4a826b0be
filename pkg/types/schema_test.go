package types

import (
	"testing"
)

func testSchema() Schema {
	return Schema{
		Dataset: "orders",
		Version: 1,
		Fields: WithOrdinals([]Field{
			{Name: "id", Type: Integer()},
			{Name: "amount", Type: Decimal(10, 2), Nullable: true},
			{Name: "status", Type: Str()},
		}),
	}
}

func TestSchemaEqualIgnoresOrder(t *testing.T) {
	a := testSchema()
	b := Schema{
		Dataset: "orders",
		Version: 7,
		Fields: WithOrdinals([]Field{
			{Name: "status", Type: Str()},
			{Name: "id", Type: Integer()},
			{Name: "amount", Type: Decimal(10, 2), Nullable: true},
		}),
	}

	if !a.Equal(b, DefaultCompare()) {
		t.Error("reordered fields must compare equal under the default options")
	}
	if a.Equal(b, CompareOptions{}) {
		t.Error("reordered fields must compare unequal when ordinals matter")
	}
}

func TestSchemaEqualCaseFolding(t *testing.T) {
	a := testSchema()
	b := a.Clone()
	b.Fields[0].Name = "ID"

	if a.Equal(b, DefaultCompare()) {
		t.Error("case-sensitive comparison must distinguish id from ID")
	}
	if !a.Equal(b, CompareOptions{IgnoreOrdinal: true, CaseInsensitive: true}) {
		t.Error("case-insensitive comparison must match id with ID")
	}
}

func TestSchemaEqualDetectsDifferences(t *testing.T) {
	base := testSchema()

	widened := base.Clone()
	widened.Fields[0].Type = Float()
	if base.Equal(widened, DefaultCompare()) {
		t.Error("type change must make schemas unequal")
	}

	relaxed := base.Clone()
	relaxed.Fields[2].Nullable = true
	if base.Equal(relaxed, DefaultCompare()) {
		t.Error("nullability change must make schemas unequal")
	}

	trimmed := base.Clone()
	trimmed.Fields = trimmed.Fields[:2]
	if base.Equal(trimmed, DefaultCompare()) {
		t.Error("field count change must make schemas unequal")
	}
}

func TestSchemaEqualIgnoresMetadata(t *testing.T) {
	a := testSchema()
	b := a.Clone()
	b.Dataset = "other"
	b.Version = 99
	d := "0"
	b.Fields[0].Default = &d

	if !a.Equal(b, DefaultCompare()) {
		t.Error("dataset, version, and defaults are metadata and must not affect equality")
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		wantErr bool
	}{
		{"valid", testSchema(), false},
		{"no fields", Schema{Dataset: "x"}, true},
		{
			"duplicate names",
			Schema{Fields: []Field{
				{Name: "a", Type: Integer()},
				{Name: "a", Type: Str()},
			}},
			true,
		},
		{
			"empty name",
			Schema{Fields: []Field{{Name: "", Type: Integer()}}},
			true,
		},
		{
			"bad decimal scale",
			Schema{Fields: []Field{{Name: "a", Type: Decimal(4, 6)}}},
			true,
		},
		{
			"array without element",
			Schema{Fields: []Field{{Name: "a", Type: TypeTag{Kind: KindArray}}}},
			true,
		},
		{
			"empty struct",
			Schema{Fields: []Field{{Name: "a", Type: TypeTag{Kind: KindStruct}}}},
			true,
		},
		{
			"unknown kind",
			Schema{Fields: []Field{{Name: "a", Type: TypeTag{Kind: "BLOB"}}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaCloneIsDeep(t *testing.T) {
	a := testSchema()
	b := a.Clone()
	b.Fields[0].Name = "mutated"
	b.Fields[1].Type.Precision = 38

	if a.Fields[0].Name != "id" {
		t.Error("clone must not share field headers with the original")
	}
	if a.Fields[1].Type.Precision != 10 {
		t.Error("clone must not share type tags with the original")
	}
}

func TestWithOrdinals(t *testing.T) {
	fields := WithOrdinals([]Field{
		{Name: "b", Type: Str(), Ordinal: 42},
		{Name: "a", Type: Integer(), Ordinal: 42},
	})
	for i, f := range fields {
		if f.Ordinal != i {
			t.Errorf("field %s ordinal = %d, want %d", f.Name, f.Ordinal, i)
		}
	}
}

func TestFieldByName(t *testing.T) {
	s := testSchema()

	if _, ok := s.FieldByName("amount", DefaultCompare()); !ok {
		t.Error("expected to find amount")
	}
	if _, ok := s.FieldByName("AMOUNT", DefaultCompare()); ok {
		t.Error("case-sensitive lookup must miss AMOUNT")
	}
	if _, ok := s.FieldByName("AMOUNT", CompareOptions{CaseInsensitive: true}); !ok {
		t.Error("case-insensitive lookup must find AMOUNT")
	}
	if _, ok := s.FieldByName("missing", DefaultCompare()); ok {
		t.Error("lookup of a missing field must fail")
	}
}

func TestTypeTagString(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want string
	}{
		{Integer(), "INTEGER"},
		{Decimal(10, 2), "DECIMAL(10,2)"},
		{Array(Str()), "ARRAY<STRING>"},
		{StructOf(Field{Name: "a", Type: Integer()}), "STRUCT<a:INTEGER>"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
