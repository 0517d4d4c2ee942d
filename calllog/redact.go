package calllog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Redacted replaces the value of every sensitive key.
const Redacted = "***HIDDEN***"

var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"password":      {},
	"token":         {},
	"secret":        {},
	"authorization": {},
}

// Redact returns a copy of v with sensitive keys hidden at any depth. Values
// that are not JSON objects or arrays are returned unchanged; structs are
// converted through their JSON form first.
func Redact(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return string(b)
	}
	return redactValue(generic)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				out[k] = Redacted
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	}
	return v
}
