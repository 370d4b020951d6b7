package registry

import (
	"archive/tar"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ggcrtypes "github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/logging"
	"github.com/bibin-skaria/layer-reuse/internal/types"
)

var testCreated = time.Date(2024, 3, 5, 17, 4, 12, 0, time.UTC)

// testImage builds an OCI image with one random layer per component. An
// empty component leaves the layer unannotated.
func testImage(t *testing.T, components ...string) v1.Image {
	t.Helper()

	img := mutate.MediaType(empty.Image, ggcrtypes.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, ggcrtypes.OCIConfigJSON)

	adds := make([]mutate.Addendum, 0, len(components))
	for i, component := range components {
		layer, err := random.Layer(int64(256*(i+1)), ggcrtypes.OCILayer)
		if err != nil {
			t.Fatalf("random.Layer() error = %v", err)
		}

		add := mutate.Addendum{
			Layer:   layer,
			History: v1.History{Author: "chunkah", Comment: component},
		}
		if component != "" {
			add.Annotations = map[string]string{types.ComponentAnnotation: component}
		}
		adds = append(adds, add)
	}

	img, err := mutate.Append(img, adds...)
	if err != nil {
		t.Fatalf("mutate.Append() error = %v", err)
	}

	img, err = mutate.CreatedAt(img, v1.Time{Time: testCreated})
	if err != nil {
		t.Fatalf("mutate.CreatedAt() error = %v", err)
	}

	return img
}

func expectedLayers(t *testing.T, img v1.Image) []types.Layer {
	t.Helper()

	manifest, err := img.Manifest()
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}

	layers := make([]types.Layer, len(manifest.Layers))
	for i, desc := range manifest.Layers {
		layers[i] = types.Layer{
			Digest:    desc.Digest.String(),
			Size:      desc.Size,
			Component: desc.Annotations[types.ComponentAnnotation],
		}
	}
	return layers
}

func newTestClient(t *testing.T, opts *ClientOptions) *Client {
	t.Helper()
	t.Setenv("DOCKER_CONFIG", t.TempDir())

	if opts == nil {
		opts = DefaultClientOptions()
	}
	opts.RetryConfig = &errors.RetryConfig{MaxRetries: 0}
	opts.Logger = logging.WithComponent(logging.Discard(), "registry")

	client := NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func writeLayout(t *testing.T, images map[string]v1.Image) string {
	t.Helper()

	dir := t.TempDir()
	path, err := layout.Write(dir, empty.Index)
	if err != nil {
		t.Fatalf("layout.Write() error = %v", err)
	}

	for tag, img := range images {
		if err := path.AppendImage(img, layout.WithAnnotations(map[string]string{
			specsv1.AnnotationRefName: tag,
		})); err != nil {
			t.Fatalf("AppendImage() error = %v", err)
		}
	}

	return dir
}

func TestClient_InspectRegistry(t *testing.T) {
	server := httptest.NewServer(ggcrregistry.New())
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	img := testImage(t, "rpm/glibc", "rpm/bash", "")

	ref, err := name.ParseReference(host+"/test/image:1", name.Insecure)
	if err != nil {
		t.Fatalf("ParseReference() error = %v", err)
	}
	if err := remote.Write(ref, img); err != nil {
		t.Fatalf("remote.Write() error = %v", err)
	}

	opts := DefaultClientOptions()
	opts.Registry.Insecure = []string{host}
	client := newTestClient(t, opts)

	imageRef := "docker://" + host + "/test/image:1"
	got, err := client.Inspect(context.Background(), imageRef)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	want := types.NewImage(imageRef, "2024-03-05", expectedLayers(t, img))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Inspect() mismatch (-want +got):\n%s", diff)
	}

	history, err := client.History(context.Background(), imageRef)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	wantHistory := []types.HistoryEntry{
		{Author: "chunkah", Comment: "rpm/glibc", HasComment: true},
		{Author: "chunkah", Comment: "rpm/bash", HasComment: true},
		{Author: "chunkah", Comment: ""},
	}
	if diff := cmp.Diff(wantHistory, history); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_InspectRegistry_NotFound(t *testing.T) {
	server := httptest.NewServer(ggcrregistry.New())
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	opts := DefaultClientOptions()
	opts.Registry.Insecure = []string{host}
	client := newTestClient(t, opts)

	_, err := client.Inspect(context.Background(), "docker://"+host+"/missing/image:1")
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if !errors.IsCategory(err, errors.ErrorCategoryAdapter) {
		t.Errorf("expected adapter error, got %v", err)
	}
}

func TestClient_InspectLayout(t *testing.T) {
	v1img := testImage(t, "a", "b")
	v2img := testImage(t, "a", "c", "d")
	dir := writeLayout(t, map[string]v1.Image{"v1": v1img, "v2": v2img})

	client := newTestClient(t, nil)

	tests := []struct {
		name    string
		ref     string
		want    v1.Image
		wantErr bool
	}{
		{
			name: "first tag",
			ref:  "oci:" + dir + ":v1",
			want: v1img,
		},
		{
			name: "second tag",
			ref:  "oci:" + dir + ":v2",
			want: v2img,
		},
		{
			name:    "unknown tag",
			ref:     "oci:" + dir + ":v3",
			wantErr: true,
		},
		{
			name:    "ambiguous layout",
			ref:     "oci:" + dir,
			wantErr: true,
		},
		{
			name:    "missing layout",
			ref:     "oci:" + filepath.Join(dir, "nope"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Inspect(context.Background(), tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Inspect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			want := types.NewImage(tt.ref, "2024-03-05", expectedLayers(t, tt.want))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Inspect() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClient_InspectLayout_PlatformIndex(t *testing.T) {
	amd := testImage(t, "amd64-only")
	arm := testImage(t, "arm64-only", "extra")

	index := mutate.AppendManifests(empty.Index,
		mutate.IndexAddendum{
			Add:        amd,
			Descriptor: v1.Descriptor{Platform: &v1.Platform{OS: "linux", Architecture: "amd64"}},
		},
		mutate.IndexAddendum{
			Add:        arm,
			Descriptor: v1.Descriptor{Platform: &v1.Platform{OS: "linux", Architecture: "arm64"}},
		},
	)

	dir := t.TempDir()
	path, err := layout.Write(dir, empty.Index)
	if err != nil {
		t.Fatalf("layout.Write() error = %v", err)
	}
	if err := path.AppendIndex(index); err != nil {
		t.Fatalf("AppendIndex() error = %v", err)
	}

	opts := DefaultClientOptions()
	opts.Platform = types.Platform{OS: "linux", Architecture: "arm64"}
	client := newTestClient(t, opts)

	got, err := client.Inspect(context.Background(), "oci:"+dir)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if diff := cmp.Diff(expectedLayers(t, arm), got.Layers); diff != "" {
		t.Errorf("wrong platform selected (-want +got):\n%s", diff)
	}

	opts = DefaultClientOptions()
	opts.Platform = types.Platform{OS: "linux", Architecture: "s390x"}
	if _, err := newTestClient(t, opts).Inspect(context.Background(), "oci:"+dir); err == nil {
		t.Error("expected error for platform missing from index")
	}
}

func TestClient_InspectOCIArchive(t *testing.T) {
	img := testImage(t, "kernel", "glibc")
	dir := writeLayout(t, map[string]v1.Image{"latest": img})

	archive := filepath.Join(t.TempDir(), "image.tar.zst")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tarDirectory(t, dir, zw)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	client := newTestClient(t, nil)
	ref := "oci-archive:" + archive + ":latest"

	got, err := client.Inspect(context.Background(), ref)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if diff := cmp.Diff(types.NewImage(ref, "2024-03-05", expectedLayers(t, img)), got); diff != "" {
		t.Errorf("Inspect() mismatch (-want +got):\n%s", diff)
	}

	if _, err := client.History(context.Background(), ref); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(client.extracted) != 1 {
		t.Fatalf("archive extracted %d times, want once", len(client.extracted))
	}

	var extractedDir string
	for _, d := range client.extracted {
		extractedDir = d
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(extractedDir); !os.IsNotExist(err) {
		t.Errorf("extracted directory %s still exists after Close()", extractedDir)
	}
}

func TestClient_InspectDockerArchive(t *testing.T) {
	img := testImage(t, "", "")
	tag, err := name.NewTag("example.com/app:1")
	if err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "image.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if err := tarball.Write(tag, img, zw); err != nil {
		t.Fatalf("tarball.Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	client := newTestClient(t, nil)

	for _, ref := range []string{
		"docker-archive:" + archive,
		"docker-archive:" + archive + ":example.com/app:1",
	} {
		got, err := client.Inspect(context.Background(), ref)
		if err != nil {
			t.Fatalf("Inspect(%s) error = %v", ref, err)
		}
		if len(got.Layers) != 2 || got.Created != "2024-03-05" {
			t.Errorf("Inspect(%s) = %+v", ref, got)
		}
		for _, l := range got.Layers {
			if l.Component != "" {
				t.Errorf("docker archives carry no annotations, got %q", l.Component)
			}
		}
	}
}

func TestClient_UnsupportedReferences(t *testing.T) {
	client := newTestClient(t, nil)

	_, err := client.Inspect(context.Background(), "containers-storage:localhost/img:a")
	if !errors.IsCategory(err, errors.ErrorCategoryAdapter) {
		t.Fatalf("expected adapter error, got %v", err)
	}
	var analysisErr *errors.AnalysisError
	if !stderrors.As(err, &analysisErr) || !strings.Contains(analysisErr.Suggestion, "--inspector=skopeo") {
		t.Errorf("expected skopeo suggestion, got %v", err)
	}

	_, err = client.Inspect(context.Background(), "quay.io/fedora/fedora:41")
	if !errors.IsCategory(err, errors.ErrorCategoryUsage) {
		t.Errorf("expected usage error for unqualified reference, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "connection refused",
			err:  fmt.Errorf("dial tcp: connection refused"),
			want: true,
		},
		{
			name: "analysis error",
			err:  errors.NewUsageError("bad reference"),
			want: false,
		},
		{
			name: "cancelled",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "unknown error",
			err:  fmt.Errorf("manifest unknown"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// tarDirectory writes the regular files under dir to w as a tar stream.
func tarDirectory(t *testing.T, dir string, w io.Writer) {
	t.Helper()

	tw := tar.NewWriter(w)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		t.Fatalf("tar %s: %v", dir, err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}
