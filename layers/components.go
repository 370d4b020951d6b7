package layers

import (
	"sort"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// ComponentsBySize returns the component labels of layers, largest layer
// first. Unlabeled layers are skipped. Layers of equal size keep their input
// order.
func ComponentsBySize(layers []types.Layer) []string {
	named := make([]types.Layer, 0, len(layers))
	for _, layer := range layers {
		if layer.Component != "" {
			named = append(named, layer)
		}
	}

	sort.SliceStable(named, func(i, j int) bool {
		return named[i].Size > named[j].Size
	})

	names := make([]string, len(named))
	for i, layer := range named {
		names[i] = layer.Component
	}
	return names
}

// TopComponents returns at most limit names and how many were left out.
func TopComponents(names []string, limit int) ([]string, int) {
	if limit < 0 || len(names) <= limit {
		return names, 0
	}
	return names[:limit], len(names) - limit
}
