package layering

import (
	"reflect"
	"sort"
)

// Fill merges defaults under dst in place. Keys whose value is absent or nil
// in dst take the default; nested maps are merged recursively. It returns the
// sorted keys whose value changed.
func Fill[M ~map[string]any](dst M, defaults M) []string {
	if dst == nil || len(defaults) == 0 {
		return nil
	}

	merged := MergeLayers(dst, defaults)
	var changed []string
	for key, value := range merged {
		if prior, ok := dst[key]; ok && reflect.DeepEqual(prior, value) {
			continue
		}
		dst[key] = value
		changed = append(changed, key)
	}
	sort.Strings(changed)
	return changed
}
