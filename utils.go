package mrnn

import (
	"sort"

	"gorgonia.org/tensor"
)

// sortedKeys returns the keys of a keyed prediction in sorted order,
// so that fan-out over multiple outputs is reproducible.
func sortedKeys(m map[string]tensor.Tensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
