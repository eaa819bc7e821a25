package graph

import "strings"

// Fields is an ordered list of field names carried on a Scope.
type Fields []string

// NewFields returns a Fields value holding names, in order, without duplicates.
func NewFields(names ...string) Fields {
	var f Fields
	return f.Union(names)
}

// Contains reports whether name is one of the fields.
func (f Fields) Contains(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every field in other is present in f.
func (f Fields) ContainsAll(other Fields) bool {
	for _, n := range other {
		if !f.Contains(n) {
			return false
		}
	}
	return true
}

// Union returns f followed by the fields of other not already in f.
func (f Fields) Union(other Fields) Fields {
	out := make(Fields, 0, len(f)+len(other))
	for _, n := range f {
		if !out.Contains(n) {
			out = append(out, n)
		}
	}
	for _, n := range other {
		if !out.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether f and other hold the same names in the same order.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share backing storage with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

func (f Fields) String() string {
	return "[" + strings.Join(f, ", ") + "]"
}
