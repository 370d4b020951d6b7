package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bibin-skaria/layer-reuse/engine"
	"github.com/bibin-skaria/layer-reuse/exporters"
	"github.com/bibin-skaria/layer-reuse/internal/config"
	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/logging"
	"github.com/bibin-skaria/layer-reuse/layers"
	"github.com/bibin-skaria/layer-reuse/registry"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// newInspector is replaced in tests.
var newInspector = func(cfg *config.Config, log *logrus.Entry) registry.Inspector {
	if cfg.Inspector == config.InspectorSkopeo {
		return registry.NewSkopeoInspector(registry.SkopeoOptions{
			Path:   cfg.SkopeoPath,
			Args:   cfg.SkopeoArgs,
			Logger: log,
		})
	}

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Retries

	options := registry.DefaultClientOptions()
	options.UserAgent = "layer-reuse/" + Version
	options.Platform = cfg.TargetPlatform()
	options.Registry = cfg.Registry
	options.RetryConfig = retry
	options.Logger = log
	return registry.NewClient(options)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code. Reports go
// to stdout only when the whole run succeeds.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		reportError(stderr, err)
		return 1
	}
	return 0
}

type rootOptions struct {
	json           bool
	showChanged    bool
	showUnchanged  bool
	inspector      string
	configPath     string
	jobs           int
	platform       string
	componentLimit int
	logLevel       string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "layer-reuse [flags] IMAGE IMAGE...",
		Short: "Report layer reuse between consecutive container images",
		Long: `layer-reuse compares each image with the one before it by layer digest and
reports how many layers and bytes are shared, how much a client would have to
download for the update, and a summary across all updates.

References take a transport prefix: docker://, oci:, oci-archive:,
docker-archive: or containers-storage: (skopeo inspector only).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.BoolVar(&opts.json, "json", false, "Output JSON instead of text")
	flags.BoolVar(&opts.showChanged, "show-changed-components", false, "List components whose layers changed in each update")
	flags.BoolVar(&opts.showUnchanged, "show-unchanged-components", false, "List components whose layers were reused in each update")
	flags.StringVar(&opts.inspector, "inspector", config.InspectorNative, "Metadata source (native, skopeo)")
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.config/layer-reuse/config.yaml)")
	flags.IntVarP(&opts.jobs, "jobs", "j", 1, "Number of images to inspect concurrently")
	flags.StringVar(&opts.platform, "platform", "", "Platform to select from multi-arch images (e.g., linux/arm64)")
	flags.IntVar(&opts.componentLimit, "component-limit", config.DefaultComponentLimit, "Maximum components listed per update")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts *rootOptions) (err error) {
	if len(args) < engine.MinImages {
		return errors.NewUsageError("Need at least 2 images for update analysis")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return errors.NewConfigurationError("setup_logging", "invalid logging configuration", err)
	}
	defer func() {
		var analysisErr *errors.AnalysisError
		if stderrors.As(err, &analysisErr) && analysisErr.Suggestion != "" {
			logger.WithField("category", analysisErr.Category).Debug(analysisErr.Suggestion)
		}
	}()

	inspector := newInspector(cfg, logging.WithComponent(logger, "registry"))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.WithError(err).Warn("failed to clean up inspector")
		}
	}()

	analyzer := engine.NewAnalyzer(
		inspector,
		layers.NewBackfiller(inspector, cfg.HistoryAuthor, logging.WithComponent(logger, "layers")),
		logging.WithComponent(logger, "engine"),
	)

	report, err := analyzer.Run(cmd.Context(), args, engine.Options{
		Jobs:              cfg.Jobs,
		ResolveComponents: opts.showChanged || opts.showUnchanged,
	})
	if err != nil {
		return err
	}
	logger.WithFields(analyzer.Metrics().Fields()).Debug("analysis complete")

	format := "text"
	if opts.json {
		format = "json"
	}
	exporter, err := exporters.GetExporter(format)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := exporter.Export(&buf, report, exporters.Options{
		ShowChanged:    opts.showChanged,
		ShowUnchanged:  opts.showUnchanged,
		ComponentLimit: cfg.ComponentLimit,
	}); err != nil {
		return errors.WrapError(err, "export")
	}

	_, err = buf.WriteTo(cmd.OutOrStdout())
	return err
}

// applyFlags overrides configuration values with flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *rootOptions) {
	flags := cmd.Flags()
	if flags.Changed("inspector") {
		cfg.Inspector = opts.inspector
	}
	if flags.Changed("jobs") {
		cfg.Jobs = opts.jobs
	}
	if flags.Changed("platform") {
		cfg.Platform = opts.platform
	}
	if flags.Changed("component-limit") {
		cfg.ComponentLimit = opts.componentLimit
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
}

func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", err)
}
