package exporters

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bibin-skaria/layer-reuse/internal/types"
	"github.com/bibin-skaria/layer-reuse/layers"
)

// TextExporter renders the human-readable report.
type TextExporter struct{}

func init() {
	RegisterExporter("text", &TextExporter{})
}

func (e *TextExporter) Export(w io.Writer, report *types.Report, opts Options) error {
	out := bufio.NewWriter(w)

	fmt.Fprintln(out, "==> Image Summary:")
	for _, img := range report.Images {
		fmt.Fprintf(out, "    %s%s  %d layers, %s\n",
			suffixed(img.Created, "  "), img.Ref, len(img.Layers), FormatBytes(img.TotalSize))
	}
	fmt.Fprintln(out)

	if len(report.Updates) > 0 {
		fmt.Fprintln(out, "==> Update Analysis:")
		fmt.Fprintln(out)

		for _, update := range report.Updates {
			writeUpdate(out, update, opts)
		}
	}

	if report.Summary != nil {
		writeSummary(out, report.Summary)
	}

	return out.Flush()
}

func writeUpdate(out io.Writer, update *types.Update, opts Options) {
	shared := len(update.Shared)
	total := shared + len(update.Added)

	fmt.Fprintf(out, "    From: %s%s\n", update.From.Ref, parenthesized(update.From.Created))
	fmt.Fprintf(out, "    To:   %s%s\n", update.To.Ref, parenthesized(update.To.Created))
	fmt.Fprintf(out, "      Shared:   %3d layers (%s)\n", shared, FormatBytes(update.SharedBytes))
	fmt.Fprintf(out, "      Added:    %3d layers (%s download)\n", len(update.Added), FormatBytes(update.DownloadBytes))
	fmt.Fprintf(out, "      Removed:  %3d layers\n", len(update.Removed))
	fmt.Fprintf(out, "      Data reuse: %.1f%% (%d/%d layers)\n", update.ReuseRatio()*100, shared, total)

	if opts.ShowChanged {
		writeComponents(out, "Changed:  ", update.Added, opts.componentLimit())
	}
	if opts.ShowUnchanged {
		writeComponents(out, "Unchanged:", update.Shared, opts.componentLimit())
	}

	fmt.Fprintln(out)
}

func writeComponents(out io.Writer, label string, ls []types.Layer, limit int) {
	names := layers.ComponentsBySize(ls)
	if len(names) == 0 {
		return
	}

	top, rest := layers.TopComponents(names, limit)
	more := ""
	if rest > 0 {
		more = fmt.Sprintf(", ... and %d more", rest)
	}
	fmt.Fprintf(out, "      %s %s%s\n", label, strings.Join(top, ", "), more)
}

func writeSummary(out io.Writer, summary *types.Summary) {
	fmt.Fprintln(out, "==> Summary:")
	fmt.Fprintf(out, "    Total updates analyzed: %d\n", summary.UpdateCount)
	fmt.Fprintf(out, "    Average data reuse:    %.1f%%\n", summary.AvgReuseRatio*100)
	fmt.Fprintf(out, "    Average download size:  %s\n", FormatBytes(summary.AvgDownloadBytes))

	if summary.UpdateCount > 1 {
		fmt.Fprintf(out, "    Min download:           %s\n", FormatBytes(summary.MinDownloadBytes))
		fmt.Fprintf(out, "    Max download:           %s\n", FormatBytes(summary.MaxDownloadBytes))
	}
	fmt.Fprintln(out)
}

func suffixed(s, suffix string) string {
	if s == "" {
		return ""
	}
	return s + suffix
}

func parenthesized(s string) string {
	if s == "" {
		return ""
	}
	return "  (" + s + ")"
}
