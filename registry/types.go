package registry

import (
	"fmt"
	"strings"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
)

// Transport identifies where an image reference is read from.
type Transport string

const (
	TransportDocker            Transport = "docker"
	TransportOCI               Transport = "oci"
	TransportOCIArchive        Transport = "oci-archive"
	TransportDockerArchive     Transport = "docker-archive"
	TransportContainersStorage Transport = "containers-storage"
)

// transportPrefixes is ordered so that longer prefixes are tried first.
var transportPrefixes = []struct {
	prefix    string
	transport Transport
}{
	{"docker://", TransportDocker},
	{"oci-archive:", TransportOCIArchive},
	{"oci:", TransportOCI},
	{"docker-archive:", TransportDockerArchive},
	{"containers-storage:", TransportContainersStorage},
}

// ImageReference is a parsed transport-qualified image reference.
//
// For docker references Location is the registry reference
// (host/repo[:tag|@digest]). For layout and archive transports Location is
// the filesystem path and Tag the optional reference inside it.
type ImageReference struct {
	Transport Transport `json:"transport"`
	Location  string    `json:"location"`
	Tag       string    `json:"tag,omitempty"`
}

// String returns the reference in its transport-qualified form
func (r ImageReference) String() string {
	var ref strings.Builder

	ref.WriteString(string(r.Transport))
	if r.Transport == TransportDocker {
		ref.WriteString("://")
	} else {
		ref.WriteString(":")
	}
	ref.WriteString(r.Location)

	if r.Tag != "" {
		ref.WriteString(":")
		ref.WriteString(r.Tag)
	}

	return ref.String()
}

// ParseImageReference splits a transport-qualified reference such as
// docker://quay.io/fedora/fedora:41 or oci:/srv/layout:v2.
func ParseImageReference(ref string) (ImageReference, error) {
	if ref == "" {
		return ImageReference{}, errors.NewUsageError("image reference cannot be empty")
	}

	for _, tp := range transportPrefixes {
		if !strings.HasPrefix(ref, tp.prefix) {
			continue
		}

		rest := strings.TrimPrefix(ref, tp.prefix)
		imageRef := ImageReference{Transport: tp.transport}

		switch tp.transport {
		case TransportDocker, TransportContainersStorage:
			imageRef.Location = rest
		default:
			// path[:reference], split on the first colon
			path, tag, _ := strings.Cut(rest, ":")
			imageRef.Location = path
			imageRef.Tag = tag
		}

		if imageRef.Location == "" {
			return ImageReference{}, errors.NewUsageError(fmt.Sprintf("invalid image reference %q: missing location", ref))
		}

		return imageRef, nil
	}

	return ImageReference{}, errors.NewErrorBuilder().
		Category(errors.ErrorCategoryUsage).
		Operation("parse_reference").
		Ref(ref).
		Messagef("invalid image reference %q: missing transport", ref).
		Suggestion("Prefix the reference with a transport such as docker://, oci: or oci-archive:").
		Build()
}
