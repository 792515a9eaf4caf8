// Package schema implements a framework-independent structural type AST
// for documents: object/array/string/number/bool/date/optional/nullable/
// union, with dotted-path resolution through the tree. This is the
// "schema as first-class value" design called for in SPEC_FULL.md §4.C —
// no third-party JSON-schema library is used, because resolving a path to
// an element type and enumerating root fields is cheap to own directly
// and the spec calls for a framework-independent AST.
package schema

import (
	"fmt"
	"strings"
)

// Kind discriminates the variants of Type.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindDate
	KindObject
	KindArray
	KindOptional
	KindNullable
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindOptional:
		return "optional"
	case KindNullable:
		return "nullable"
	case KindUnion:
		return "union"
	default:
		return "unknown"
	}
}

// Type is a node in the schema AST. Only the fields relevant to its Kind
// are populated.
type Type struct {
	Kind Kind

	// KindObject
	fields     map[string]*Type
	fieldOrder []string

	// KindArray, KindOptional, KindNullable
	Element *Type

	// KindUnion
	Options []*Type
}

// String returns a leaf Type of Kind string.
func String() *Type { return &Type{Kind: KindString} }

// Number returns a leaf Type of Kind number.
func Number() *Type { return &Type{Kind: KindNumber} }

// Bool returns a leaf Type of Kind bool.
func Bool() *Type { return &Type{Kind: KindBool} }

// Date returns a leaf Type of Kind date.
func Date() *Type { return &Type{Kind: KindDate} }

// Object returns an object Type. Field iteration order (for
// RootFieldNames) follows the order fields are supplied here.
func Object(fields map[string]*Type, order []string) *Type {
	if order == nil {
		order = make([]string, 0, len(fields))
		for k := range fields {
			order = append(order, k)
		}
	}
	return &Type{Kind: KindObject, fields: fields, fieldOrder: order}
}

// Array returns an array Type whose elements are of type elem.
func Array(elem *Type) *Type { return &Type{Kind: KindArray, Element: elem} }

// Optional wraps t as an optional field (may be absent).
func Optional(t *Type) *Type { return &Type{Kind: KindOptional, Element: t} }

// Nullable wraps t as a nullable field (may be JSON null).
func Nullable(t *Type) *Type { return &Type{Kind: KindNullable, Element: t} }

// Union returns a Type that may be any of options.
func Union(options ...*Type) *Type { return &Type{Kind: KindUnion, Options: options} }

// Unwrap strips Optional/Nullable wrappers, returning the first
// non-wrapper Type reached.
func Unwrap(t *Type) *Type {
	for t != nil && (t.Kind == KindOptional || t.Kind == KindNullable) {
		t = t.Element
	}
	return t
}

// IsBoolean reports whether t (after unwrapping Optional/Nullable) is a
// bool type. Used to drive INTEGER 0/1 -> bool coercion on read, since a
// bare 0/1 heuristic is not sufficient (spec.md §4.D: "booleans are only
// restored via schema-driven post-processing").
func IsBoolean(t *Type) bool {
	u := Unwrap(t)
	return u != nil && u.Kind == KindBool
}

// FieldError reports a path that could not be resolved against a schema.
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("schema: cannot resolve field path %q: %s", e.Path, e.Reason)
}

// Resolve walks root and returns the element Type at the dotted path p,
// descending transparently through Optional/Nullable wrappers at every
// hop, and through Array into its Element when the path continues past
// an array field (meaning: a path into the shape of each array element).
func Resolve(root *Type, p string) (*Type, error) {
	current := root
	if p == "" {
		return current, nil
	}
	segments := strings.Split(p, ".")
	for i, seg := range segments {
		current = Unwrap(current)
		if current == nil {
			return nil, &FieldError{Path: p, Reason: "reached a nil type before consuming the full path"}
		}
		switch current.Kind {
		case KindObject:
			next, ok := current.fields[seg]
			if !ok {
				return nil, &FieldError{Path: p, Reason: fmt.Sprintf("object has no field %q", seg)}
			}
			current = next
		case KindArray:
			// Resolve the remaining path, current segment included,
			// against the element type: it names a field of each
			// element, not an index.
			rest := strings.Join(segments[i:], ".")
			return Resolve(current.Element, rest)
		default:
			return nil, &FieldError{Path: p, Reason: fmt.Sprintf("cannot descend into %s at segment %q", current.Kind, seg)}
		}
	}
	return current, nil
}

// RootFieldNames returns the field names of root (after unwrapping
// Optional/Nullable) in declaration order. Returns an error if root is
// not (eventually) an object.
func RootFieldNames(root *Type) ([]string, error) {
	u := Unwrap(root)
	if u == nil || u.Kind != KindObject {
		return nil, fmt.Errorf("schema: root type is not an object")
	}
	out := make([]string, len(u.fieldOrder))
	copy(out, u.fieldOrder)
	return out, nil
}

// HasField reports whether path resolves against root without error.
func HasField(root *Type, path string) bool {
	_, err := Resolve(root, path)
	return err == nil
}
