package layers

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// Analyze classifies the layers of to against from by digest.
//
// Shared and Added follow the layer order of to and use the to-side record, so
// component labels of the newer image win. Removed follows the order of from.
// Digests are expected to be unique within an image; duplicates collapse to a
// single entry holding the last record at the position of the first.
func Analyze(from, to *types.Image) *types.Update {
	fromLayers, fromDigests := uniqueByDigest(from.Layers)
	toLayers, toDigests := uniqueByDigest(to.Layers)

	update := &types.Update{
		From:    from,
		To:      to,
		Shared:  []types.Layer{},
		Added:   []types.Layer{},
		Removed: []types.Layer{},
	}

	for _, layer := range toLayers {
		if fromDigests.Contains(layer.Digest) {
			update.Shared = append(update.Shared, layer)
			update.SharedBytes += layer.Size
		} else {
			update.Added = append(update.Added, layer)
			update.DownloadBytes += layer.Size
		}
	}

	for _, layer := range fromLayers {
		if !toDigests.Contains(layer.Digest) {
			update.Removed = append(update.Removed, layer)
		}
	}

	return update
}

// AnalyzeSequence analyzes every consecutive pair of images in order.
func AnalyzeSequence(images []*types.Image) []*types.Update {
	if len(images) < 2 {
		return []*types.Update{}
	}

	updates := make([]*types.Update, 0, len(images)-1)
	for i := 0; i+1 < len(images); i++ {
		updates = append(updates, Analyze(images[i], images[i+1]))
	}
	return updates
}

func uniqueByDigest(layers []types.Layer) ([]types.Layer, mapset.Set[string]) {
	digests := mapset.NewThreadUnsafeSet[string]()
	position := make(map[string]int, len(layers))
	unique := make([]types.Layer, 0, len(layers))

	for _, layer := range layers {
		if i, seen := position[layer.Digest]; seen {
			unique[i] = layer
			continue
		}
		position[layer.Digest] = len(unique)
		unique = append(unique, layer)
		digests.Add(layer.Digest)
	}

	return unique, digests
}
