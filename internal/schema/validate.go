package schema

import (
	"fmt"
	"reflect"
	"time"
)

// ValidationError reports a document value that doesn't conform to its
// schema Type at the given path.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: field %q: %s", e.Path, e.Reason)
}

// Validate checks that doc structurally conforms to t, recursively.
// Objects: every declared field must either be present and valid, or be
// wrapped in Optional. Unknown fields on the document are accepted
// (schema declares the fields this engine cares about synthesizing
// columns for and validating; it is not a closed-world contract).
func Validate(t *Type, doc any) error {
	return validatePath(t, doc, "")
}

func validatePath(t *Type, v any, path string) error {
	switch t.Kind {
	case KindOptional:
		if v == nil {
			return nil
		}
		return validatePath(t.Element, v, path)
	case KindNullable:
		if v == nil {
			return nil
		}
		return validatePath(t.Element, v, path)
	case KindUnion:
		var lastErr error
		for _, opt := range t.Options {
			if err := validatePath(opt, v, path); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = &ValidationError{Path: path, Reason: "no union member matched"}
		}
		return lastErr
	case KindString:
		if _, ok := v.(string); !ok {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected string, got %T", v)}
		}
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
		default:
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected number, got %T", v)}
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected bool, got %T", v)}
		}
	case KindDate:
		switch v.(type) {
		case time.Time, string:
		default:
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected date, got %T", v)}
		}
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected object, got %T", v)}
		}
		for _, name := range t.fieldOrder {
			fieldType := t.fields[name]
			fieldPath := name
			if path != "" {
				fieldPath = path + "." + name
			}
			val, present := m[name]
			if !present {
				if fieldType.Kind == KindOptional {
					continue
				}
				return &ValidationError{Path: fieldPath, Reason: "required field is missing"}
			}
			if err := validatePath(fieldType, val, fieldPath); err != nil {
				return err
			}
		}
	case KindArray:
		// v may be []any (a decoded document) or a native numeric slice
		// such as []float32/[]float64 (a vector passed straight from
		// caller code, not yet round-tripped through JSON), so a slice
		// is recognized by its reflect.Kind rather than a single
		// concrete element type.
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Slice {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("expected array, got %T", v)}
		}
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i).Interface()
			if err := validatePath(t.Element, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
