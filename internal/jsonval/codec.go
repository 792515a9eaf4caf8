// Package jsonval implements the document wire format: stable JSON
// encoding with ISO-8601 date tagging, decoding back into tagged values,
// and a bounded LRU cache of parsed documents keyed by a hash of their
// source text.
package jsonval

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// dateTypeTag is the __type discriminator used to round-trip time.Time
// values through JSON text, since JSON itself has no date type.
const dateTypeTag = "Date"

// Encode serializes v to the document wire format: a JSON object/array
// (or scalar) with every time.Time value rewritten as
// {"__type":"Date","value":"<RFC3339>"}. Map keys are sorted by
// encoding/json's own behavior for map[string]any, which is what makes
// this "stable" — the same logical document always encodes to the same
// bytes regardless of construction order.
func Encode(v any) ([]byte, error) {
	tagged := tagDates(v)
	data, err := json.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("jsonval: encode: %w", err)
	}
	return data, nil
}

func tagDates(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{
			"__type": dateTypeTag,
			"value":  val.UTC().Format(time.RFC3339Nano),
		}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = tagDates(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = tagDates(elem)
		}
		return out
	default:
		return v
	}
}

// Decode parses JSON text and reverses Date tagging, returning time.Time
// values wherever a {"__type":"Date","value":...} object appears.
func Decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("jsonval: decode: %w", err)
	}
	return untagDates(raw), nil
}

func untagDates(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if t, ok := val["__type"]; ok && t == dateTypeTag {
			if s, ok := val["value"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return parsed
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = untagDates(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = untagDates(elem)
		}
		return out
	default:
		return v
	}
}

// Clone performs a deep copy of a decoded document value, so callers can
// never mutate a value that's shared with the parse cache (invariant I8).
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case time.Time:
		return val
	default:
		return v
	}
}

// GetPath reads a dotted field path out of raw document JSON text,
// returning the gjson.Result so callers can branch on .Exists()/.Type
// without a full decode. Used by the collection engine's index rebuild,
// which only needs one path at a time and would otherwise pay for a
// full Decode per lookup.
func GetPath(docJSON string, path string) gjson.Result {
	return gjson.Get(docJSON, path)
}

// SetPath writes a value at a dotted field path into document JSON text,
// returning the updated text. Atomic operators do not go through it:
// package sqlgen compiles them to json_set/json_insert/json_remove SQL.
func SetPath(docJSON string, path string, value any) (string, error) {
	out, err := sjson.Set(docJSON, path, value)
	if err != nil {
		return "", fmt.Errorf("jsonval: set path %q: %w", path, err)
	}
	return out, nil
}

// DeletePath removes the value at a dotted field path from document JSON
// text.
func DeletePath(docJSON string, path string) (string, error) {
	out, err := sjson.Delete(docJSON, path)
	if err != nil {
		return "", fmt.Errorf("jsonval: delete path %q: %w", path, err)
	}
	return out, nil
}
