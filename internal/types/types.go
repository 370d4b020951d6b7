package types

import (
	"fmt"
	"runtime"
	"strings"
)

// ComponentAnnotation is the per-layer annotation carrying the component label.
const ComponentAnnotation = "org.chunkah.component"

// UnknownComponent labels layers whose history entry carries no comment.
const UnknownComponent = "unknown"

type Platform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
}

func (p Platform) String() string {
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

func ParsePlatform(platform string) (Platform, error) {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Platform{}, fmt.Errorf("invalid platform %q, expected os/arch[/variant]", platform)
	}

	p := Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}

	if len(parts) > 2 {
		p.Variant = parts[2]
	}

	return p, nil
}

// GetHostPlatform returns the linux platform matching the host architecture,
// which is what container images are selected for by default.
func GetHostPlatform() Platform {
	return Platform{
		OS:           "linux",
		Architecture: runtime.GOARCH,
	}
}

// Layer is one content layer of an image. Component is empty when the
// layer has no attributable component.
type Layer struct {
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
	Component string `json:"component,omitempty"`
}

// Image is the inspected layer metadata of a single image reference.
// Created is the creation date (YYYY-MM-DD) or empty when unknown.
type Image struct {
	Ref       string  `json:"ref"`
	Created   string  `json:"created,omitempty"`
	Layers    []Layer `json:"layers"`
	TotalSize int64   `json:"total_bytes"`
}

// NewImage builds an Image and computes its total size from the layers.
func NewImage(ref, created string, layers []Layer) *Image {
	img := &Image{
		Ref:     ref,
		Created: created,
		Layers:  layers,
	}
	for _, layer := range layers {
		img.TotalSize += layer.Size
	}
	return img
}

// HasComponents reports whether any layer carries a component label.
func (i *Image) HasComponents() bool {
	for _, layer := range i.Layers {
		if layer.Component != "" {
			return true
		}
	}
	return false
}

// HistoryEntry is one build-history record from an image config.
type HistoryEntry struct {
	Author     string `json:"author,omitempty"`
	Comment    string `json:"comment,omitempty"`
	EmptyLayer bool   `json:"empty_layer,omitempty"`
	// HasComment is set when the record carries a comment key, even an
	// empty one.
	HasComment bool   `json:"-"`
}

// Update is the layer difference between two consecutive images.
type Update struct {
	From          *Image
	To            *Image
	Shared        []Layer
	Added         []Layer
	Removed       []Layer
	SharedBytes   int64
	DownloadBytes int64
}

// TotalBytes is the size of the target image as seen by the update.
func (u *Update) TotalBytes() int64 {
	return u.SharedBytes + u.DownloadBytes
}

// ReuseRatio is the fraction of target bytes already present locally, or 0
// when the target has no bytes at all.
func (u *Update) ReuseRatio() float64 {
	total := u.TotalBytes()
	if total <= 0 {
		return 0
	}
	return float64(u.SharedBytes) / float64(total)
}

type Summary struct {
	UpdateCount        int     `json:"update_count"`
	AvgReuseRatio      float64 `json:"avg_reuse_ratio"`
	AvgDownloadBytes   int64   `json:"avg_download_bytes"`
	MinDownloadBytes   int64   `json:"min_download_bytes"`
	MaxDownloadBytes   int64   `json:"max_download_bytes"`
	TotalDownloadBytes int64   `json:"total_download_bytes"`
}

// Report is everything produced by one analysis run, in input order.
// Summary is nil when there are no updates.
type Report struct {
	Images  []*Image
	Updates []*Update
	Summary *Summary
}

type RegistryConfig struct {
	Registries map[string]RegistryAuth `json:"registries,omitempty" yaml:"registries"`
	Insecure   []string                `json:"insecure,omitempty" yaml:"insecure"`
}

type RegistryAuth struct {
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	Token    string `json:"token,omitempty" yaml:"token"`
}
