package audit

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/photark/photark-backend/pkg/config"
)

// BoundDetails enforces the size contract on a details payload. Array fields
// longer than the threshold are reduced to their first-k and last-k elements
// around a count marker (2k+1 entries). If the serialized payload still
// exceeds the byte ceiling, the whole map is replaced by a numeric summary.
// The returned JSON never exceeds the ceiling, regardless of call site.
func BoundDetails(details map[string]any, cfg config.AuditConfig) json.RawMessage {
	if len(details) == 0 {
		return nil
	}

	bounded := make(map[string]any, len(details))
	for key, value := range details {
		bounded[key] = boundValue(value, cfg.ArrayThreshold, cfg.ArrayEdgeCount)
	}

	raw, err := json.Marshal(bounded)
	if err != nil {
		return summaryDetails(details, -1)
	}
	if cfg.MaxDetailBytes > 0 && len(raw) > cfg.MaxDetailBytes {
		return summaryDetails(details, len(raw))
	}
	return raw
}

// BoundActions hard-caps the recommended actions list.
func BoundActions(actions []string, cfg config.AuditConfig) []string {
	limit := cfg.MaxActions
	if limit <= 0 {
		limit = 50
	}
	if len(actions) <= limit {
		return actions
	}
	return actions[:limit]
}

func boundValue(value any, threshold, edge int) any {
	if threshold <= 0 || edge <= 0 {
		return value
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return value
	}
	kind := rv.Kind()
	if kind != reflect.Slice && kind != reflect.Array {
		return value
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// Byte blobs are summarized, never embedded.
		return fmt.Sprintf("[%d bytes]", rv.Len())
	}
	total := rv.Len()
	if total <= threshold {
		return value
	}

	out := make([]any, 0, 2*edge+1)
	for i := 0; i < edge; i++ {
		out = append(out, rv.Index(i).Interface())
	}
	out = append(out, fmt.Sprintf("[+%d more]", total-2*edge))
	for i := total - edge; i < total; i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}

func summaryDetails(details map[string]any, originalBytes int) json.RawMessage {
	summary := map[string]any{
		"truncated":   true,
		"field_count": len(details),
	}
	if originalBytes >= 0 {
		summary["original_bytes"] = originalBytes
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return json.RawMessage(`{"truncated":true}`)
	}
	return raw
}
