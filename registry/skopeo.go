package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, passing standard error through.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	return cmd.Output()
}

// SkopeoOptions configures a SkopeoInspector
type SkopeoOptions struct {
	// Path to the skopeo binary, defaults to "skopeo"
	Path string
	// Args are extra arguments passed to every inspect call
	Args []string
	// Runner executes skopeo, defaults to ExecRunner
	Runner CommandRunner
	Logger *logrus.Entry
}

// SkopeoInspector reads image metadata by running skopeo inspect.
type SkopeoInspector struct {
	path   string
	args   []string
	runner CommandRunner
	log    *logrus.Entry
}

type skopeoLayer struct {
	Digest      string            `json:"Digest"`
	Size        int64             `json:"Size"`
	Annotations map[string]string `json:"Annotations"`
}

type skopeoInspectOutput struct {
	Created    string        `json:"Created"`
	LayersData []skopeoLayer `json:"LayersData"`
}

func NewSkopeoInspector(opts SkopeoOptions) *SkopeoInspector {
	if opts.Path == "" {
		opts.Path = "skopeo"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &SkopeoInspector{
		path:   opts.Path,
		args:   opts.Args,
		runner: opts.Runner,
		log:    opts.Logger.WithField("inspector", "skopeo"),
	}
}

// Inspect runs skopeo inspect ref.
func (s *SkopeoInspector) Inspect(ctx context.Context, ref string) (*types.Image, error) {
	out, err := s.run(ctx, ref)
	if err != nil {
		return nil, err
	}

	var data skopeoInspectOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, errors.NewMetadataError("parse_inspect", ref, "invalid skopeo inspect output for "+ref, err)
	}

	layers := make([]types.Layer, 0, len(data.LayersData))
	for _, l := range data.LayersData {
		// Missing or malformed digests are rejected rather than compared as
		// opaque strings.
		if _, err := digest.Parse(l.Digest); err != nil {
			return nil, errors.NewMetadataError("parse_inspect", ref, "invalid layer digest "+l.Digest, err)
		}
		layers = append(layers, types.Layer{
			Digest:    l.Digest,
			Size:      l.Size,
			Component: l.Annotations[types.ComponentAnnotation],
		})
	}

	created := data.Created
	if len(created) > len(createdLayout) {
		created = created[:len(createdLayout)]
	}

	s.log.WithFields(logrus.Fields{
		"ref":    ref,
		"layers": len(layers),
	}).Debug("inspected image")

	return types.NewImage(ref, created, layers), nil
}

// History runs skopeo inspect --config ref and returns its history.
func (s *SkopeoInspector) History(ctx context.Context, ref string) ([]types.HistoryEntry, error) {
	out, err := s.run(ctx, ref, "--config")
	if err != nil {
		return nil, err
	}

	config, err := v1.ParseConfigFile(bytes.NewReader(out))
	if err != nil {
		return nil, errors.NewMetadataError("parse_config", ref, "invalid image config for "+ref, err)
	}

	// v1.History drops the difference between an empty and a missing comment.
	var raw struct {
		History []struct {
			Comment *string `json:"comment"`
		} `json:"history"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, errors.NewMetadataError("parse_config", ref, "invalid image config for "+ref, err)
	}

	entries := historyEntries(config)
	for i := range entries {
		if i < len(raw.History) && raw.History[i].Comment != nil {
			entries[i].HasComment = true
		}
	}
	return entries, nil
}

// Close is a no-op; skopeo keeps no state between calls.
func (s *SkopeoInspector) Close() error {
	return nil
}

func (s *SkopeoInspector) run(ctx context.Context, ref string, flags ...string) ([]byte, error) {
	args := append([]string{"inspect"}, flags...)
	args = append(args, s.args...)
	args = append(args, ref)

	out, err := s.runner(ctx, s.path, args...)
	if err != nil {
		cmdline := s.path + " " + strings.Join(args, " ")
		s.log.WithError(err).Debugf("%s failed", cmdline)
		return nil, errors.NewErrorBuilder().
			Category(errors.ErrorCategoryAdapter).
			Operation("skopeo_inspect").
			Ref(ref).
			Message("Command failed: " + cmdline).
			Build()
	}

	return out, nil
}
