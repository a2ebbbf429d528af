package session

import "github.com/startupai/intake/internal/models"

// DeepMerge merges src into dst and returns dst. Nested maps are merged
// recursively; for any other colliding value the incoming one wins. Arrays
// replace existing arrays wholesale, same as scalars: the brief always
// reflects the newest extraction, history is the append-only record.
func DeepMerge(dst, src models.Brief) models.Brief {
	if dst == nil {
		dst = models.Brief{}
	}
	for key, incoming := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = normalize(incoming)
			continue
		}
		existingMap, eok := asMap(existing)
		incomingMap, iok := asMap(incoming)
		if eok && iok {
			dst[key] = map[string]any(DeepMerge(existingMap, incomingMap))
			continue
		}
		dst[key] = normalize(incoming)
	}
	return dst
}

func asMap(v any) (models.Brief, bool) {
	switch m := v.(type) {
	case models.Brief:
		return m, true
	case map[string]any:
		return models.Brief(m), true
	default:
		return nil, false
	}
}

// normalize converts Brief values to plain maps so merged briefs round-trip
// through JSON without type surprises.
func normalize(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = normalize(val)
		}
		return out
	}
	return v
}
