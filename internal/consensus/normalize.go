package consensus

import (
	"encoding/json"
	"sort"
	"strings"
)

// extractDecision pulls the stage's decision field out of an agent's raw
// output. Outputs are expected to be JSON documents; a missing field or
// unparseable document yields an empty decision, which never matches.
func extractDecision(raw, field string) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ""
	}
	val, ok := doc[field]
	if !ok {
		return ""
	}
	return normalizeValue(val)
}

// normalizeValue renders a JSON value in canonical form so semantically
// equal decisions compare byte-equal: object keys sorted, strings trimmed
// and case-folded, arrays element-normalized in order.
func normalizeValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return canonical(v)
}

func canonical(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.Join(strings.Fields(t), " "))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte(':')
			sb.WriteString(canonical(t[k]))
		}
		sb.WriteByte('}')
		return sb.String()
	case []any:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(canonical(e))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
