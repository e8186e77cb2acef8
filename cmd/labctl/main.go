// Command labctl inspects the container catalog, checks coordinates, imports
// sample batches and publishes inventory and lineage exports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"labcore/internal/blob"
	"labcore/internal/config"
	"labcore/internal/core"
	"labcore/internal/export"
	"labcore/internal/observability"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "labctl:", err)
		stop()
		exitFunc(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	metricsOut string
	actor      string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Biobank sample and container management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("LABCORE_CONFIG"), "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&opts.metricsOut, "metrics-out", "", `override metrics.output ("-" for stderr)`)
	root.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("USER"), "user recorded on created records and audit entries")

	root.AddCommand(
		newKindsCmd(opts),
		newCoordCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newLineageCmd(opts),
		newLedgerCmd(opts),
	)
	return root
}

// runtime is the wired service stack for commands that touch the store.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	store   core.PersistentStore
	svc     *core.Service
	metrics core.MetricsRecorder
	stderr  io.Writer

	// dumpMetrics writes the collected metrics; nil without a backend.
	dumpMetrics func(io.Writer) error
	traces      *sdktrace.TracerProvider
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.metricsOut != "" {
		cfg.Metrics.Output = o.metricsOut
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) open() (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewZap(cfg.Log.Level, observability.LogFormat(cfg.Log.Format))
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(cfg.StorageOptions(), nil)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	rt := &runtime{cfg: cfg, logger: logger, store: store, stderr: o.stderr}
	svcOpts := []core.ServiceOption{
		core.WithLogger(observability.NewZapLogger(logger)),
		core.WithAuditRecorder(observability.NewZapAuditRecorder(logger)),
	}
	switch strings.ToLower(cfg.Metrics.Backend) {
	case config.BackendPrometheus:
		prom := observability.NewPrometheusRecorder()
		rt.metrics, rt.dumpMetrics = prom, prom.WriteText
	case config.BackendExpvar:
		rec := core.NewExpvarMetricsRecorder("")
		rt.metrics = rec
		rt.dumpMetrics = func(w io.Writer) error { return writeJSON(w, rec.Snapshot()) }
	}
	if rt.metrics != nil {
		svcOpts = append(svcOpts, core.WithMetricsRecorder(rt.metrics))
	}
	switch strings.ToLower(cfg.Tracing.Backend) {
	case config.BackendOTel:
		tp, err := observability.NewStdoutTracerProvider(o.stderr, "labctl")
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.traces = tp
		svcOpts = append(svcOpts, core.WithTracer(observability.NewOTelTracer(tp)))
	case config.BackendJSON:
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(o.stderr)))
	}
	rt.svc = core.NewService(store, svcOpts...)
	logger.Debug("runtime ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.String("metrics", cfg.Metrics.Backend),
		zap.String("tracing", cfg.Tracing.Backend))
	return rt, nil
}

func (o *rootOptions) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.actor != "" {
		ctx = core.WithActor(ctx, o.actor)
	}
	return ctx
}

func (r *runtime) exporter(ctx context.Context) (*export.Exporter, error) {
	store, err := blob.Open(ctx, r.cfg.Blob)
	if err != nil {
		return nil, err
	}
	return export.NewExporter(r.svc, store,
		export.WithPrefix(r.cfg.Export.Prefix),
		export.WithLogger(r.logger),
		export.WithMetrics(r.metrics)), nil
}

func (r *runtime) Close() error {
	var errs []error
	if r.traces != nil {
		errs = append(errs, r.traces.Shutdown(context.Background()))
	}
	errs = append(errs, r.writeMetrics())
	if closer, ok := r.store.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	// stderr sync fails with EINVAL on some platforms
	if err := r.logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *runtime) writeMetrics() error {
	out := strings.TrimSpace(r.cfg.Metrics.Output)
	if r.dumpMetrics == nil || out == "" {
		return nil
	}
	if out == "-" {
		return r.dumpMetrics(r.stderr)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("metrics output: %w", err)
	}
	if err := r.dumpMetrics(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write metrics to %s: %w", out, err)
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printViolations(w io.Writer, res core.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  [%s] %s\n", v.Severity, v)
	}
}
