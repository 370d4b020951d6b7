package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/types"
	"github.com/bibin-skaria/layer-reuse/layers"
	"github.com/bibin-skaria/layer-reuse/registry"
)

// MinImages is the smallest number of references that yields an update.
const MinImages = 2

type Options struct {
	// Jobs bounds concurrent metadata fetches; values below 1 mean 1.
	Jobs int
	// ResolveComponents enables recovering component labels from history.
	ResolveComponents bool
}

// Analyzer fetches image metadata and computes reuse statistics across a
// sequence of image references.
type Analyzer struct {
	inspector  registry.Inspector
	backfiller *layers.Backfiller
	log        *logrus.Entry
	metrics    *MetricsCollector
}

func NewAnalyzer(inspector registry.Inspector, backfiller *layers.Backfiller, log *logrus.Entry) *Analyzer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Analyzer{
		inspector:  inspector,
		backfiller: backfiller,
		log:        log,
	}
}

// Metrics returns the metrics of the most recent run, or nil before the
// first run.
func (a *Analyzer) Metrics() *RunMetrics {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.GetMetrics()
}

// Run inspects refs in order and reports the reuse between each
// consecutive pair. Any failure aborts the run.
func (a *Analyzer) Run(ctx context.Context, refs []string, opts Options) (*types.Report, error) {
	if len(refs) < MinImages {
		return nil, errors.NewUsageError("Need at least 2 images for update analysis")
	}

	a.metrics = NewMetricsCollector()

	images, err := a.fetchAll(ctx, refs, opts.Jobs)
	if err != nil {
		return nil, err
	}

	if opts.ResolveComponents && a.backfiller != nil {
		start := time.Now()
		if err := a.backfiller.BackfillAll(ctx, images); err != nil {
			return nil, err
		}
		a.metrics.RecordBackfill(time.Since(start))
	}

	updates := layers.AnalyzeSequence(images)
	for _, update := range updates {
		a.log.WithFields(logrus.Fields{
			"from":     update.From.Ref,
			"to":       update.To.Ref,
			"shared":   len(update.Shared),
			"added":    len(update.Added),
			"removed":  len(update.Removed),
			"download": update.DownloadBytes,
		}).Debug("analyzed update")
	}

	a.metrics.Finish(len(updates))

	return &types.Report{
		Images:  images,
		Updates: updates,
		Summary: layers.Summarize(updates),
	}, nil
}

// fetchAll inspects every reference with at most jobs fetches in flight.
// Results keep input order; the first error cancels the remaining fetches.
func (a *Analyzer) fetchAll(ctx context.Context, refs []string, jobs int) ([]*types.Image, error) {
	if jobs < 1 {
		jobs = 1
	}

	images := make([]*types.Image, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			img, err := a.inspector.Inspect(gctx, ref)
			if err != nil {
				return err
			}

			images[i] = img
			a.metrics.RecordFetch(img, time.Since(start))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
