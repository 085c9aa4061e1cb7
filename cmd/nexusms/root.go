package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/config"
	"github.com/INLOpen/nexusms/metrics"
	"github.com/INLOpen/nexusms/msfile"
	"github.com/INLOpen/nexusms/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

const version = "0.3.0"

// app carries what every subcommand needs once the configuration is loaded.
type app struct {
	configPath string
	logLevel   string
	debug      bool

	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	debugSrv *server.DebugServer
	cleanup  []func()
}

// run executes the command line args, writing results to stdout.
func run(args []string, stdout io.Writer) error {
	root, a := newRootCmd()
	defer a.teardown()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.Execute()
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "nexusms",
		Short: "nexusms - self-indexed mass spectrometry containers",
		Long: `nexusms converts scan journals into self-indexed container files and
answers random-access and chromatogram queries against them.

Examples:
  # Generate a synthetic DIA run and convert it
  nexusms synth --out run01.scans --dia
  nexusms build run01.scans

  # Extracted ion chromatogram at 10 ppm
  nexusms xic run01.nms --mz 524.2648 --tol 10ppm`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "nexusms.yaml", "Path to the configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level")
	root.PersistentFlags().BoolVar(&a.debug, "debug-server", false, "Start the debug HTTP server for the duration of the command")

	root.AddCommand(
		newSynthCmd(a),
		newBuildCmd(a),
		newInfoCmd(a),
		newXICCmd(a),
		newSpectrumCmd(a),
		newIsolatingCmd(a),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", a.configPath, err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.debug {
		cfg.Debug.Enabled = true
	}
	a.cfg = cfg

	logger, closer, err := createLogger(cfg.Logging)
	if err != nil {
		return err
	}
	if closer != nil {
		a.cleanup = append(a.cleanup, func() { closer.Close() })
	}
	a.logger = logger.With("command", cmd.Name())

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, a.logger)
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, tracerCleanup)
	a.tracer = tp.Tracer("github.com/INLOpen/nexusms")

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	if cfg.Debug.Enabled {
		a.debugSrv = server.NewDebugServer(&cfg.Debug, a.registry, a.logger)
		go func() {
			if err := a.debugSrv.Start(); err != nil {
				a.logger.Error("Failed to start debug server", "error", err)
			}
		}()
		a.cleanup = append(a.cleanup, func() { a.debugSrv.Stop(context.Background()) })
	}
	return nil
}

func (a *app) teardown() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) writerOptions() msfile.WriterOptions {
	w := a.cfg.Writer
	return msfile.WriterOptions{
		FormatVersion: w.FormatVersion,
		FallbackDir:   w.FallbackDir,
		Preallocate:   w.Preallocate,
		LockTimeout:   config.ParseDuration(w.LockTimeout, msfile.DefaultLockTimeout, a.logger),
		Chromatogram: chromatogram.Options{
			BucketPeaks:      w.BucketPeaks,
			MaxResidentPeaks: w.MaxResidentPeaks,
			MinAllotment:     w.MinAllotment,
			MemoryBudget:     w.MemoryBudgetBytes,
		},
		DIAWindowThreshold: a.cfg.Reader.DIAWindowThreshold,
		Metrics:            a.metrics,
		Tracer:             a.tracer,
		Logger:             a.logger,
	}
}

func (a *app) readerOptions() msfile.ReaderOptions {
	r := a.cfg.Reader
	return msfile.ReaderOptions{
		LowerCacheRecords:        r.LowerCacheRecords,
		HigherCacheRecords:       r.HigherCacheRecords,
		CacheActivationThreshold: r.CacheActivationThreshold,
		DIAWindowThreshold:       r.DIAWindowThreshold,
		SpectrumCacheCapacity:    r.SpectrumCacheCapacity,
		Metrics:                  a.metrics,
		Tracer:                   a.tracer,
		Logger:                   a.logger,
	}
}

func (a *app) openContainer(path string) (*msfile.Reader, error) {
	return msfile.Open(path, a.readerOptions())
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
