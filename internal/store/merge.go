package store

import (
	"encoding/json"
	"fmt"
)

// MergeDefaults overlays current on defaults. Nested objects merge
// recursively; arrays and nulls in current are taken whole.
func MergeDefaults(current, defaults map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(current))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range current {
		switch typed := value.(type) {
		case nil, []any:
			merged[key] = typed
		case map[string]any:
			if nested, ok := defaults[key].(map[string]any); ok {
				merged[key] = MergeDefaults(typed, nested)
				continue
			}
			merged[key] = typed
		default:
			merged[key] = typed
		}
	}
	return merged
}

// toDocument round-trips v through JSON so typed values can be merged.
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func fromDocument(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
