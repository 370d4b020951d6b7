package exporters

import (
	"encoding/json"
	"io"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// JSONExporter renders the machine-readable report. Absent creation dates
// and component labels are emitted as null.
type JSONExporter struct{}

func init() {
	RegisterExporter("json", &JSONExporter{})
}

type jsonLayer struct {
	Digest    string  `json:"digest"`
	Size      int64   `json:"size"`
	Component *string `json:"component"`
}

type jsonImage struct {
	Ref        string      `json:"ref"`
	Created    *string     `json:"created"`
	LayerCount int         `json:"layer_count"`
	TotalBytes int64       `json:"total_bytes"`
	Layers     []jsonLayer `json:"layers"`
}

type jsonUpdate struct {
	From              string  `json:"from"`
	FromCreated       *string `json:"from_created"`
	To                string  `json:"to"`
	ToCreated         *string `json:"to_created"`
	SharedLayerCount  int     `json:"shared_layer_count"`
	AddedLayerCount   int     `json:"added_layer_count"`
	RemovedLayerCount int     `json:"removed_layer_count"`
	SharedBytes       int64   `json:"shared_bytes"`
	DownloadBytes     int64   `json:"download_bytes"`
	ReuseRatio        float64 `json:"reuse_ratio"`
}

type jsonReport struct {
	Images  []jsonImage  `json:"images"`
	Updates []jsonUpdate `json:"updates"`
	Summary interface{}  `json:"summary"`
}

func (e *JSONExporter) Export(w io.Writer, report *types.Report, opts Options) error {
	out := jsonReport{
		Images:  make([]jsonImage, 0, len(report.Images)),
		Updates: make([]jsonUpdate, 0, len(report.Updates)),
		Summary: struct{}{},
	}

	for _, img := range report.Images {
		layers := make([]jsonLayer, len(img.Layers))
		for i, layer := range img.Layers {
			layers[i] = jsonLayer{
				Digest:    layer.Digest,
				Size:      layer.Size,
				Component: nullable(layer.Component),
			}
		}
		out.Images = append(out.Images, jsonImage{
			Ref:        img.Ref,
			Created:    nullable(img.Created),
			LayerCount: len(img.Layers),
			TotalBytes: img.TotalSize,
			Layers:     layers,
		})
	}

	for _, update := range report.Updates {
		out.Updates = append(out.Updates, jsonUpdate{
			From:              update.From.Ref,
			FromCreated:       nullable(update.From.Created),
			To:                update.To.Ref,
			ToCreated:         nullable(update.To.Created),
			SharedLayerCount:  len(update.Shared),
			AddedLayerCount:   len(update.Added),
			RemovedLayerCount: len(update.Removed),
			SharedBytes:       update.SharedBytes,
			DownloadBytes:     update.DownloadBytes,
			ReuseRatio:        update.ReuseRatio(),
		})
	}

	if report.Summary != nil {
		out.Summary = report.Summary
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(out)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
