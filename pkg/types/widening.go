package types

// IsWidening reports whether changing a field's type from old to new loses
// no information. The matrix is closed and strict: equal types are not a
// widening, and no narrowing is ever safe.
//
// Safe widenings:
//   - INTEGER -> FLOAT, INTEGER -> DECIMAL, FLOAT -> DECIMAL
//   - any primitive -> STRING (string-cast absorbs scalars)
//   - DECIMAL(p1,s1) -> DECIMAL(p2,s2) when both the fractional digits and
//     the integral digits do not shrink
//   - ARRAY(a) -> ARRAY(b) when a -> b is a widening
//   - STRUCT -> STRUCT when field names match pairwise and every field type
//     is equal or widening, with nullability never tightened
func IsWidening(old, new TypeTag) bool {
	if old.Equal(new) {
		return false
	}
	switch old.Kind {
	case KindInteger:
		switch new.Kind {
		case KindFloat, KindDecimal, KindString:
			return true
		}
	case KindFloat:
		switch new.Kind {
		case KindDecimal, KindString:
			return true
		}
	case KindBoolean, KindTimestamp:
		return new.Kind == KindString
	case KindDecimal:
		if new.Kind == KindString {
			return true
		}
		if new.Kind == KindDecimal {
			return decimalWidens(old, new)
		}
	case KindArray:
		if new.Kind != KindArray || old.Elem == nil || new.Elem == nil {
			return false
		}
		return IsWidening(*old.Elem, *new.Elem)
	case KindStruct:
		if new.Kind != KindStruct {
			return false
		}
		return structWidens(old, new)
	}
	return false
}

// decimalWidens checks DECIMAL parameter widening: scale (fractional
// digits) and precision-minus-scale (integral digits) must both be
// preserved or grown.
func decimalWidens(old, new TypeTag) bool {
	return new.Scale >= old.Scale &&
		new.Precision-new.Scale >= old.Precision-old.Scale
}

// structWidens requires the same field names in the same nested order with
// every field equal or widening. Nested additions and removals are not
// auto-merged; that decision belongs to the reconciler at the top level.
func structWidens(old, new TypeTag) bool {
	if len(old.Fields) != len(new.Fields) {
		return false
	}
	for i := range old.Fields {
		a, b := old.Fields[i], new.Fields[i]
		if a.Name != b.Name {
			return false
		}
		if a.Nullable && !b.Nullable {
			return false
		}
		if !a.Type.Equal(b.Type) && !IsWidening(a.Type, b.Type) {
			return false
		}
	}
	return true
}

// IsCompatible reports whether a field's type may change from old to new
// without a conflict: either the types are equal or the change widens.
func IsCompatible(old, new TypeTag) bool {
	return old.Equal(new) || IsWidening(old, new)
}
