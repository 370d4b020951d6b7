package layers

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// HistoryFallbackWarning is logged the first time labels are recovered from
// image history.
const HistoryFallbackWarning = "Note: Using OCI history fallback (annotations not available)."

// HistorySource returns the build history of an image reference.
type HistorySource interface {
	History(ctx context.Context, ref string) ([]types.HistoryEntry, error)
}

// Backfiller recovers component labels from image history for images whose
// layers carry no component annotations. It is safe for concurrent use.
type Backfiller struct {
	source HistorySource
	author string
	log    *logrus.Entry
	warned atomic.Bool
}

// NewBackfiller creates a Backfiller that trusts history entries written by
// author.
func NewBackfiller(source HistorySource, author string, log *logrus.Entry) *Backfiller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Backfiller{
		source: source,
		author: author,
		log:    log,
	}
}

// Warned reports whether the history fallback warning has been emitted.
func (b *Backfiller) Warned() bool {
	return b.warned.Load()
}

// Backfill labels the layers of img from its history.
//
// Images with at least one labeled layer are treated as fully annotated and
// left alone, as are images with no history entry from the expected author.
// Otherwise the non-empty history entries must map one-to-one onto the
// layers; a count mismatch is an error and leaves img unchanged.
func (b *Backfiller) Backfill(ctx context.Context, img *types.Image) error {
	if img.HasComponents() {
		return nil
	}

	history, err := b.source.History(ctx, img.Ref)
	if err != nil {
		return err
	}

	if !b.builtByAuthor(history) {
		b.log.WithField("ref", img.Ref).Debug("no history entries from expected author, leaving components unset")
		return nil
	}

	if b.warned.CompareAndSwap(false, true) {
		b.log.Warn(HistoryFallbackWarning)
	}

	names := make([]string, 0, len(history))
	for _, entry := range history {
		if entry.EmptyLayer {
			continue
		}
		name := entry.Comment
		if name == "" && !entry.HasComment {
			name = types.UnknownComponent
		}
		names = append(names, name)
	}

	if len(names) != len(img.Layers) {
		return errors.NewHistoryMismatchError(img.Ref, len(names), len(img.Layers))
	}

	for i, name := range names {
		img.Layers[i].Component = name
	}

	b.log.WithFields(logrus.Fields{
		"ref":    img.Ref,
		"layers": len(names),
	}).Debug("backfilled components from history")

	return nil
}

// BackfillAll runs Backfill over images in order, stopping at the first error.
func (b *Backfiller) BackfillAll(ctx context.Context, images []*types.Image) error {
	for _, img := range images {
		if err := b.Backfill(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backfiller) builtByAuthor(history []types.HistoryEntry) bool {
	for _, entry := range history {
		if entry.Author == b.author {
			return true
		}
	}
	return false
}
