package exporters

import (
	"fmt"
	"io"
	"sort"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// DefaultComponentLimit is the number of component names listed per update.
const DefaultComponentLimit = 5

type Options struct {
	ShowChanged    bool
	ShowUnchanged  bool
	ComponentLimit int
}

func (o Options) componentLimit() int {
	if o.ComponentLimit <= 0 {
		return DefaultComponentLimit
	}
	return o.ComponentLimit
}

type Exporter interface {
	Export(w io.Writer, report *types.Report, opts Options) error
}

var exporters = make(map[string]Exporter)

func RegisterExporter(name string, exporter Exporter) {
	exporters[name] = exporter
}

func GetExporter(name string) (Exporter, error) {
	exporter, exists := exporters[name]
	if !exists {
		return nil, fmt.Errorf("exporter %s not found", name)
	}
	return exporter, nil
}

func ListExporters() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
