package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// createdLayout truncates image creation timestamps to the calendar day.
const createdLayout = "2006-01-02"

// Client reads image metadata natively with go-containerregistry
type Client struct {
	options  *ClientOptions
	keychain authn.Keychain
	log      *logrus.Entry

	mu        sync.Mutex
	extracted map[string]string
}

// ClientOptions configures the native client
type ClientOptions struct {
	// Transport for HTTP requests
	Transport http.RoundTripper
	// UserAgent for requests
	UserAgent string
	// Platform selected from multi-arch indexes
	Platform types.Platform
	// Registry credentials and insecure registries
	Registry types.RegistryConfig
	// Retry configuration for remote fetches
	RetryConfig *errors.RetryConfig
	// Logger for debug tracing, defaults to the standard logger
	Logger *logrus.Entry
}

// DefaultClientOptions returns sensible defaults for the native client
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		UserAgent:   "layer-reuse/1.0",
		Platform:    types.GetHostPlatform(),
		RetryConfig: errors.DefaultRetryConfig(),
		Registry: types.RegistryConfig{
			Registries: make(map[string]types.RegistryAuth),
		},
	}
}

// NewClient creates a new native client with the given options
func NewClient(options *ClientOptions) *Client {
	if options == nil {
		options = DefaultClientOptions()
	}

	log := options.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		options:   options,
		keychain:  NewKeychain(options.Registry),
		log:       log.WithField("inspector", "native"),
		extracted: make(map[string]string),
	}
}

// Inspect returns the layers and creation date of ref.
func (c *Client) Inspect(ctx context.Context, ref string) (*types.Image, error) {
	var image *types.Image

	err := c.withRetry(ctx, "inspect "+ref, func() error {
		img, err := c.resolve(ctx, ref)
		if err != nil {
			return err
		}

		manifest, err := img.Manifest()
		if err != nil {
			return err
		}

		config, err := img.ConfigFile()
		if err != nil {
			return err
		}

		layers := make([]types.Layer, len(manifest.Layers))
		for i, desc := range manifest.Layers {
			layers[i] = types.Layer{
				Digest:    desc.Digest.String(),
				Size:      desc.Size,
				Component: desc.Annotations[types.ComponentAnnotation],
			}
		}

		created := ""
		if !config.Created.IsZero() {
			created = config.Created.Format(createdLayout)
		}

		image = types.NewImage(ref, created, layers)
		return nil
	})
	if err != nil {
		return nil, adapterError("inspect", ref, err)
	}

	c.log.WithFields(logrus.Fields{
		"ref":    ref,
		"layers": len(image.Layers),
		"bytes":  image.TotalSize,
	}).Debug("inspected image")

	return image, nil
}

// History returns the build history recorded in the image config.
func (c *Client) History(ctx context.Context, ref string) ([]types.HistoryEntry, error) {
	var entries []types.HistoryEntry

	err := c.withRetry(ctx, "read history of "+ref, func() error {
		img, err := c.resolve(ctx, ref)
		if err != nil {
			return err
		}

		config, err := img.ConfigFile()
		if err != nil {
			return err
		}

		entries = historyEntries(config)
		return nil
	})
	if err != nil {
		return nil, adapterError("read history of", ref, err)
	}

	return entries, nil
}

// Close removes archives extracted by the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for path, dir := range c.extracted {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.extracted, path)
	}
	return firstErr
}

func historyEntries(config *v1.ConfigFile) []types.HistoryEntry {
	entries := make([]types.HistoryEntry, len(config.History))
	for i, h := range config.History {
		entries[i] = types.HistoryEntry{
			Author:     h.Author,
			Comment:    h.Comment,
			EmptyLayer: h.EmptyLayer,
			HasComment: h.Comment != "",
		}
	}
	return entries
}

// resolve opens the image behind a transport-qualified reference
func (c *Client) resolve(ctx context.Context, ref string) (v1.Image, error) {
	imageRef, err := ParseImageReference(ref)
	if err != nil {
		return nil, err
	}

	switch imageRef.Transport {
	case TransportDocker:
		return c.remoteImage(ctx, imageRef.Location)

	case TransportOCI:
		path, err := layout.FromPath(imageRef.Location)
		if err != nil {
			return nil, err
		}
		return c.layoutImage(path, imageRef.Tag)

	case TransportOCIArchive:
		dir, err := c.extract(imageRef.Location)
		if err != nil {
			return nil, err
		}
		path, err := layout.FromPath(dir)
		if err != nil {
			return nil, err
		}
		return c.layoutImage(path, imageRef.Tag)

	case TransportDockerArchive:
		var tag *name.Tag
		if imageRef.Tag != "" {
			t, err := name.NewTag(imageRef.Tag)
			if err != nil {
				return nil, err
			}
			tag = &t
		}
		opener := func() (io.ReadCloser, error) {
			return openArchive(imageRef.Location)
		}
		return tarball.Image(opener, tag)

	default:
		return nil, errors.NewErrorBuilder().
			Category(errors.ErrorCategoryAdapter).
			Operation("resolve").
			Ref(ref).
			Messagef("transport %s is not supported by the native inspector", imageRef.Transport).
			Suggestion("Use --inspector=skopeo for this reference").
			Build()
	}
}

func (c *Client) remoteImage(ctx context.Context, location string) (v1.Image, error) {
	var nameOpts []name.Option
	if IsInsecureRegistry(registryHost(location), c.options.Registry.Insecure) {
		nameOpts = append(nameOpts, name.Insecure)
	}

	nameRef, err := name.ParseReference(location, nameOpts...)
	if err != nil {
		return nil, errors.NewErrorBuilder().
			Category(errors.ErrorCategoryUsage).
			Operation("parse_reference").
			Ref(location).
			Messagef("invalid image reference %q", location).
			Cause(err).
			Build()
	}

	remoteOpts := []remote.Option{
		remote.WithAuthFromKeychain(c.keychain),
		remote.WithContext(ctx),
	}

	if c.options.Transport != nil {
		remoteOpts = append(remoteOpts, remote.WithTransport(c.options.Transport))
	}
	if c.options.UserAgent != "" {
		remoteOpts = append(remoteOpts, remote.WithUserAgent(c.options.UserAgent))
	}

	// Add platform selector if specified
	if p := c.options.Platform; p.OS != "" && p.Architecture != "" {
		remoteOpts = append(remoteOpts, remote.WithPlatform(v1.Platform{
			OS:           p.OS,
			Architecture: p.Architecture,
			Variant:      p.Variant,
		}))
	}

	return remote.Image(nameRef, remoteOpts...)
}

// layoutImage picks the manifest named tag from an OCI layout. Without a
// tag the layout must hold exactly one manifest.
func (c *Client) layoutImage(path layout.Path, tag string) (v1.Image, error) {
	index, err := path.ImageIndex()
	if err != nil {
		return nil, err
	}

	desc, err := selectDescriptor(index, tag)
	if err != nil {
		return nil, err
	}

	if !isManifestList(string(desc.MediaType)) {
		return index.Image(desc.Digest)
	}

	child, err := index.ImageIndex(desc.Digest)
	if err != nil {
		return nil, err
	}
	return c.platformImage(child)
}

func selectDescriptor(index v1.ImageIndex, tag string) (v1.Descriptor, error) {
	manifest, err := index.IndexManifest()
	if err != nil {
		return v1.Descriptor{}, err
	}

	if tag == "" {
		if len(manifest.Manifests) != 1 {
			return v1.Descriptor{}, fmt.Errorf("layout contains %d manifests, a reference is required", len(manifest.Manifests))
		}
		return manifest.Manifests[0], nil
	}

	for _, desc := range manifest.Manifests {
		if desc.Annotations[specsv1.AnnotationRefName] == tag {
			return desc, nil
		}
	}

	return v1.Descriptor{}, fmt.Errorf("no manifest with reference %q in layout", tag)
}

func (c *Client) platformImage(index v1.ImageIndex) (v1.Image, error) {
	manifest, err := index.IndexManifest()
	if err != nil {
		return nil, err
	}

	want := c.options.Platform
	for _, desc := range manifest.Manifests {
		if desc.Platform == nil {
			continue
		}
		if desc.Platform.OS != want.OS || desc.Platform.Architecture != want.Architecture {
			continue
		}
		if want.Variant != "" && desc.Platform.Variant != want.Variant {
			continue
		}
		return index.Image(desc.Digest)
	}

	return nil, fmt.Errorf("no manifest for platform %s", want)
}

// extract unpacks an OCI layout archive once per client
func (c *Client) extract(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if dir, ok := c.extracted[abs]; ok {
		return dir, nil
	}

	dir, err := extractArchive(abs)
	if err != nil {
		return "", err
	}

	c.extracted[abs] = dir
	c.log.WithFields(logrus.Fields{"archive": abs, "dir": dir}).Debug("extracted OCI archive")
	return dir, nil
}

// withRetry runs fn with the client's retry policy
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	if c.options.RetryConfig == nil {
		return fn()
	}
	return errors.RetryWithContext(ctx, c.options.RetryConfig, operation, isRetryableError, fn)
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	var analysisErr *errors.AnalysisError
	if stderrors.As(err, &analysisErr) {
		return false
	}

	// 5xx and 429 are transient; auth and not-found errors are not
	var transportErr *transport.Error
	if stderrors.As(err, &transportErr) {
		return transportErr.StatusCode >= http.StatusInternalServerError ||
			transportErr.StatusCode == http.StatusTooManyRequests
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return errors.IsRetryableMessage(err.Error())
}

func adapterError(operation, ref string, err error) error {
	var analysisErr *errors.AnalysisError
	if stderrors.As(err, &analysisErr) {
		return analysisErr
	}
	return errors.NewAdapterError(operation, ref, fmt.Sprintf("failed to %s %s", operation, ref), err)
}

// registryHost returns the registry host of a docker reference
func registryHost(location string) string {
	host, _, found := strings.Cut(location, "/")
	if found && (strings.ContainsAny(host, ".:") || host == "localhost") {
		return host
	}
	return DockerHubRegistry
}
