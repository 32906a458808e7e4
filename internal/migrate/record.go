package migrate

import (
	"encoding/json"
	"fmt"
)

// Record is a dynamic JSON object used for kinds whose payloads pass through
// mostly opaque (runs, rules, charts, manifests).
type Record = map[string]interface{}

func decodeRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// str reads a string field, returning "" for missing or non-string values.
func str(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

// firstStr returns the first non-empty string among the keys.
func firstStr(rec Record, keys ...string) string {
	for _, k := range keys {
		if v := str(rec, k); v != "" {
			return v
		}
	}
	return ""
}

// stripNulls removes explicit-null fields recursively; the server rejects
// nulls on re-ingest. Empty raw JSON values count as null.
func stripNulls(v interface{}) interface{} {
	switch t := v.(type) {
	case Record:
		out := make(Record, len(t))
		for k, val := range t {
			if val == nil || isNullJSON(val) {
				continue
			}
			out[k] = stripNulls(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, elem := range t {
			out = append(out, stripNulls(elem))
		}
		return out
	default:
		return v
	}
}

func isNullJSON(v interface{}) bool {
	raw, ok := v.(json.RawMessage)
	return ok && (len(raw) == 0 || string(raw) == "null")
}

// deepCopy clones a JSON-compatible tree via round-trip encoding.
func deepCopy(rec Record) (Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("copy record: %w", err)
	}
	return decodeRecord(raw)
}
