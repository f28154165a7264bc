package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Fields is the parsed payload of a catalog row: a flat string view of the
// stored mapping. None/null values count as missing.
type Fields map[string]string

// ParsePayload parses a raw catalog payload. Payloads in the source exports
// are Python dict repr strings; JSON objects are accepted as a fallback.
// A payload that parses as neither, or parses to a non-mapping, yields
// ErrUnparseable.
func ParsePayload(raw string) (Fields, error) {
	v, pyErr := parsePyLiteral(raw)
	if pyErr != nil {
		var obj map[string]any
		if jsonErr := json.Unmarshal([]byte(raw), &obj); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, pyErr)
		}
		return coerceMap(obj), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not a mapping", ErrUnparseable)
	}
	return coerceMap(m), nil
}

// Record converts parsed fields to a Record, filling defaults for missing keys.
func (f Fields) Record() Record {
	return Record{
		Title:     f.get("Title", "No Title"),
		Author:    f.get("Author", "No Author"),
		Labels:    f.get("Labels", "No Labels"),
		ReadLevel: f.get("Read Level", "No Read level"),
		Hyperlink: f.get("Hyperlink", "No Hyperlink"),
	}
}

func (f Fields) get(key, def string) string {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

// coerceMap flattens parsed values to strings. Nil values are dropped so the
// Record defaults apply.
func coerceMap(m map[string]any) Fields {
	out := make(Fields, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = coerce(v)
	}
	return out
}

func coerce(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			parts = append(parts, coerce(e))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
