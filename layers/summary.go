package layers

import "github.com/bibin-skaria/layer-reuse/internal/types"

// Summarize aggregates updates into a Summary, or returns nil when there are
// no updates. Updates with zero total bytes still count toward the update
// count and download statistics but are left out of the reuse ratio mean.
func Summarize(updates []*types.Update) *types.Summary {
	if len(updates) == 0 {
		return nil
	}

	summary := &types.Summary{
		UpdateCount:      len(updates),
		MinDownloadBytes: updates[0].DownloadBytes,
		MaxDownloadBytes: updates[0].DownloadBytes,
	}

	var ratioSum float64
	var ratioCount int
	for _, update := range updates {
		summary.TotalDownloadBytes += update.DownloadBytes
		if update.DownloadBytes < summary.MinDownloadBytes {
			summary.MinDownloadBytes = update.DownloadBytes
		}
		if update.DownloadBytes > summary.MaxDownloadBytes {
			summary.MaxDownloadBytes = update.DownloadBytes
		}

		if update.TotalBytes() > 0 {
			ratioSum += update.ReuseRatio()
			ratioCount++
		}
	}

	if ratioCount > 0 {
		summary.AvgReuseRatio = ratioSum / float64(ratioCount)
	}
	summary.AvgDownloadBytes = summary.TotalDownloadBytes / int64(len(updates))

	return summary
}
