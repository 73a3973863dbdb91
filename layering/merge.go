// Package layering merges layers of form values, strongest first. A key that
// is absent or nil in a stronger layer is taken from the next weaker one, and
// nested maps merge key by key.
package layering

// MergeLayers composes layers ordered from strongest to weakest into a new
// map. The inputs are not modified and nested maps and lists are copied.
func MergeLayers[M ~map[string]any](layers ...M) M {
	if len(layers) == 0 {
		return nil
	}

	merged := cloneMap(layers[len(layers)-1])
	for i := len(layers) - 2; i >= 0; i-- {
		merged = mergeMaps(layers[i], merged)
	}
	return M(merged)
}

// mergeMaps lays strong over weak. weak is owned by the caller's result and
// may be reused.
func mergeMaps(strong, weak map[string]any) map[string]any {
	if strong == nil {
		return weak
	}
	out := make(map[string]any, len(strong)+len(weak))
	for key, value := range weak {
		out[key] = value
	}
	for key, value := range strong {
		existing, ok := out[key]
		switch {
		case value == nil:
			if !ok {
				out[key] = nil
			}
		case ok:
			out[key] = mergeValue(value, existing)
		default:
			out[key] = cloneValue(value)
		}
	}
	return out
}

func mergeValue(strong, weak any) any {
	strongMap, ok := strong.(map[string]any)
	if !ok {
		return cloneValue(strong)
	}
	weakMap, ok := weak.(map[string]any)
	if !ok {
		return cloneMap(strongMap)
	}
	return mergeMaps(strongMap, weakMap)
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

func cloneMap[M ~map[string]any](src M) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = cloneValue(value)
	}
	return out
}
