// Package registry reads layer metadata for container images.
//
// Two Inspector implementations are provided:
//   - Client reads images natively with go-containerregistry from remote
//     registries (docker://), OCI layouts (oci:), OCI layout archives
//     (oci-archive:) and docker save tarballs (docker-archive:).
//   - SkopeoInspector shells out to skopeo, which additionally understands
//     containers-storage: and any other transport skopeo supports.
//
// Both return layers in manifest order with the compressed blob size, the
// component annotation when present and the creation date truncated to the
// calendar day.
//
// Example usage:
//
//	client := registry.NewClient(nil)
//	defer client.Close()
//
//	img, err := client.Inspect(ctx, "docker://quay.io/fedora/fedora:41")
//	if err != nil {
//		return err
//	}
package registry

import (
	"context"
	"strings"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// Inspector fetches image metadata for a transport-qualified reference.
type Inspector interface {
	// Inspect returns the layers and creation date of ref.
	Inspect(ctx context.Context, ref string) (*types.Image, error)

	// History returns the build history recorded in the image config.
	History(ctx context.Context, ref string) ([]types.HistoryEntry, error)

	// Close releases temporary resources such as extracted archives.
	Close() error
}

// Media types of multi-platform indexes
const (
	MediaTypeOCIIndex           = "application/vnd.oci.image.index.v1+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// Well-known registry hostnames
const (
	DockerHubRegistry = "docker.io"
	DockerHubIndex    = "index.docker.io"
)

// NormalizeRegistry normalizes a registry hostname for consistent lookup
func NormalizeRegistry(registry string) string {
	switch registry {
	case "", DockerHubRegistry, DockerHubIndex:
		return DockerHubRegistry
	default:
		return registry
	}
}

// IsInsecureRegistry checks if a registry should use plain HTTP
func IsInsecureRegistry(registry string, insecureList []string) bool {
	for _, insecure := range insecureList {
		if registry == insecure {
			return true
		}
		// Support wildcard matching
		if strings.HasSuffix(insecure, "*") {
			prefix := strings.TrimSuffix(insecure, "*")
			if strings.HasPrefix(registry, prefix) {
				return true
			}
		}
	}
	return false
}

func isManifestList(mediaType string) bool {
	return mediaType == MediaTypeDockerManifestList ||
		mediaType == MediaTypeOCIIndex
}
