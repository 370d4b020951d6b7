// Package layers computes layer reuse between consecutive container images.
//
// Images are compared by layer digest: a layer whose digest appears in both
// the previous and the next image is shared and costs nothing to update, a
// layer only present in the next image is added and must be downloaded, and a
// layer only present in the previous image is removed.
//
// # Pairwise Analysis
//
//	update := layers.Analyze(previous, next)
//	fmt.Printf("%.1f%% reused\n", update.ReuseRatio()*100)
//
// # Aggregation
//
// Summarize folds a sequence of updates into averages and extrema. The
// average reuse ratio is the mean of per-update ratios, so every update
// counts as one sample regardless of its size:
//
//	summary := layers.Summarize(updates)
//
// # Components
//
// Layers may carry a component label naming the logical unit that produced
// them. ComponentsBySize ranks the labels of a layer set by size for "what
// changed" reporting. Images built before per-layer annotations existed can
// have their labels recovered from the image history with a Backfiller:
//
//	backfiller := layers.NewBackfiller(inspector, "chunkah", log)
//	if err := backfiller.BackfillAll(ctx, images); err != nil {
//		return err
//	}
package layers
