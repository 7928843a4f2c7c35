// Package main is the entry point for the rtcbind binary.
// It generates, checks and watches the Embree bindings.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/polisai/rtcbind/pkg/config"
	"github.com/polisai/rtcbind/pkg/generator"
	"github.com/polisai/rtcbind/pkg/logging"
	"github.com/polisai/rtcbind/pkg/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// version is set at build time.
var version = "dev"

const defaultMetricsAddr = ":9464"

// CLIConfig holds the parsed persistent flags.
type CLIConfig struct {
	Config      string
	LogLevel    string
	Pretty      bool
	Target      string
	MetricsFile string
}

// app carries the state shared by all subcommands.
type app struct {
	cli      CLIConfig
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd creates the root command for rtcbind
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rtcbind",
		Short: "Binding generator for the Embree ray tracing kernels",
		Long: `rtcbind reads rtcore.h through the C preprocessor, keeps the allow-listed
declarations, strips the redundant enum and bitflag prefixes, maps size_t and
ssize_t to portable integer types and writes the bindings atomically.

Example:
  rtcbind generate /usr/include/embree3/rtcore.h src/bindings.rs
  rtcbind check /usr/include/embree3/rtcore.h src/bindings.rs`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cli.Config, "config", "c", "", "Path to configuration file (YAML); the embedded Embree 3 configuration when empty")
	flags.StringVarP(&a.cli.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides the configuration")
	flags.BoolVar(&a.cli.Pretty, "pretty", false, "Enable pretty console logging")
	flags.StringVarP(&a.cli.Target, "target", "t", "", "Output language (rust, go); overrides the configuration")
	flags.StringVar(&a.cli.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(
		a.newGenerateCmd(),
		a.newCheckCmd(),
		a.newWatchCmd(),
		a.newConfigCmd(),
	)
	return rootCmd
}

// setup loads configuration and initialises logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.reloadConfig(); err != nil {
		return err
	}
	cfg := a.cfg

	a.logger = logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	}, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "rtcbind"
	}
	shutdown, err := telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		LibraryVersion: cfg.LibraryVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = shutdown

	a.metrics = telemetry.NewMetrics()
	return nil
}

// reloadConfig loads the configuration file and applies the flag overrides.
func (a *app) reloadConfig() error {
	cfg, err := config.Load(a.cli.Config)
	if err != nil {
		return err
	}
	if a.cli.Target != "" {
		cfg.Target = a.cli.Target
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.cli.LogLevel != "" {
		cfg.Logging.Level = a.cli.LogLevel
	}
	if a.cli.Pretty {
		cfg.Logging.Pretty = true
	}
	a.cfg = cfg
	return nil
}

// run wraps a subcommand so that telemetry is flushed whether or not it fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		return errors.Join(err, a.teardown())
	}
}

// teardown flushes spans and writes the metrics textfile.
func (a *app) teardown() error {
	var errs []error
	if a.metrics != nil && a.cli.MetricsFile != "" {
		errs = append(errs, a.metrics.WriteTextfile(a.cli.MetricsFile))
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (a *app) generator() (*generator.Generator, error) {
	return generator.New(generator.Options{
		Config:  a.cfg,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

func (a *app) newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <header> <output>",
		Short: "Generate bindings and replace output atomically",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			g, err := a.generator()
			if err != nil {
				return err
			}
			_, err = g.Generate(cmd.Context(), args[0], args[1])
			return err
		}),
	}
}

func (a *app) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <header> <committed>",
		Short: "Fail when the committed bindings differ from freshly generated ones",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			g, err := a.generator()
			if err != nil {
				return err
			}
			res, err := g.Check(cmd.Context(), args[0], args[1])
			if res != nil && res.Diff != "" {
				fmt.Fprint(cmd.OutOrStdout(), res.Diff)
			}
			return err
		}),
	}
}

func (a *app) newWatchCmd() *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <header> <output>",
		Short: "Regenerate bindings whenever the header or configuration changes",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), args[0], args[1], metricsAddr, debounce)
		}),
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", defaultMetricsAddr, "Address to serve /metrics and /healthz on; empty disables the server")
	cmd.Flags().DurationVar(&debounce, "debounce", generator.DefaultDebounce, "Quiet period before regenerating")
	return cmd
}

func (a *app) runWatch(ctx context.Context, header, output, metricsAddr string, debounce time.Duration) error {
	g, err := a.generator()
	if err != nil {
		return err
	}
	if _, err := g.Generate(ctx, header, output); err != nil {
		a.logger.Error("Initial generation failed", "error", err)
	}

	configPath := ""
	if a.cli.Config != "" {
		if configPath, err = filepath.Abs(a.cli.Config); err != nil {
			return err
		}
	}

	// Callbacks never overlap, so g is only replaced between runs.
	regenerate := func(ctx context.Context, paths []string) error {
		if configPath != "" && slices.Contains(paths, configPath) {
			if err := a.reloadConfig(); err != nil {
				return err
			}
			next, err := a.generator()
			if err != nil {
				return err
			}
			g = next
			a.logger.Info("Configuration reloaded", "config_path", configPath)
		}
		_, err := g.Generate(ctx, header, output)
		return err
	}

	w, err := generator.NewWatcher([]string{header, a.cli.Config}, regenerate, debounce, a.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := w.Stop(); err != nil {
			a.logger.Error("Failed to stop watcher", "error", err)
		}
	}()

	if metricsAddr != "" {
		server, err := a.startMetricsServer(metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Shutdown error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("Shutting down")
	return nil
}

func (a *app) startMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(a.metrics.Handler(), "rtcbind.metrics"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener %s: %w", addr, err)
	}
	a.logger.Info("Metrics server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return server, nil
}

func (a *app) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}
