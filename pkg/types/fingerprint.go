package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Fingerprint is a 128-bit structural hash of a schema. Registries store it
// alongside each version as a fast equality pre-check: equal schemas always
// produce equal fingerprints, and a fingerprint mismatch proves structural
// difference without a field-by-field walk.
type Fingerprint struct {
	Hi uint64 `json:"hi"`
	Lo uint64 `json:"lo"`
}

// String renders the fingerprint as 32 hex digits.
func (fp Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x", fp.Hi, fp.Lo)
}

// ParseFingerprint parses the hex form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != 32 {
		return Fingerprint{}, fmt.Errorf("fingerprint must be 32 hex digits, got %d", len(s))
	}
	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint: %w", err)
	}
	lo, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint: %w", err)
	}
	return Fingerprint{Hi: hi, Lo: lo}, nil
}

// Fingerprint computes the schema's structural hash. The encoding sorts
// fields by name so physical column order does not change the hash, matching
// the default order-insensitive comparison policy. Version, dataset name,
// and timestamps do not participate.
func (s Schema) Fingerprint() Fingerprint {
	names := make([]string, len(s.Fields))
	byName := make(map[string]Field, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
		byName[f.Name] = f
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		encodeField(&sb, byName[name])
	}
	hi, lo := murmur3.Sum128([]byte(sb.String()))
	return Fingerprint{Hi: hi, Lo: lo}
}

func encodeField(sb *strings.Builder, f Field) {
	sb.WriteString(f.Name)
	sb.WriteByte(0)
	encodeType(sb, f.Type)
	if f.Nullable {
		sb.WriteString("\x00N")
	} else {
		sb.WriteString("\x00R")
	}
	sb.WriteByte(0)
}

func encodeType(sb *strings.Builder, t TypeTag) {
	sb.WriteString(string(t.Kind))
	switch t.Kind {
	case KindDecimal:
		fmt.Fprintf(sb, "(%d,%d)", t.Precision, t.Scale)
	case KindArray:
		sb.WriteByte('<')
		if t.Elem != nil {
			encodeType(sb, *t.Elem)
		}
		sb.WriteByte('>')
	case KindStruct:
		sb.WriteByte('{')
		for _, f := range t.Fields {
			encodeField(sb, f)
		}
		sb.WriteByte('}')
	}
}
