package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/kit/cli"
	"github.com/influxdata/dagmigrate/kit/tracing"
	"github.com/influxdata/dagmigrate/logger"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := NewCommand(cli.NewViper("dagmigrate"), os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once the configuration is
// resolved.
type app struct {
	config     Config
	configPath string

	log      *zap.Logger
	registry *prometheus.Registry
	tracer   opentracing.Tracer
	closers  []io.Closer
}

// NewCommand returns the dagmigrate command. Command output goes to stdout
// and logs to stderr.
func NewCommand(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	rt := &app{config: NewConfig()}

	cmd := &cobra.Command{
		Use:           "dagmigrate",
		Short:         "Apply and revert migrations ordered by their dependencies",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.setup(cmd, v, stderr)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return rt.teardown()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "path to a TOML configuration file")
	rt.config.bind(v, cmd.PersistentFlags())

	cmd.AddCommand(
		newMigrateCommand(rt, dagmigrate.Up),
		newMigrateCommand(rt, dagmigrate.Down),
		newStatusCommand(rt),
		newGraphCommand(rt),
		newValidateCommand(rt),
	)

	// Errors are logged rather than printed by cobra.
	for _, c := range cmd.Commands() {
		c.SilenceUsage = true
		c.SilenceErrors = true
		wrapRunE(c, rt, stderr)
	}
	return cmd
}

func wrapRunE(c *cobra.Command, rt *app, stderr io.Writer) {
	run := c.RunE
	c.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil {
			if rt.log != nil {
				rt.log.Error("Command failed", zap.String("command", cmd.Name()), zap.String("code", dagmigrate.ErrorCode(err)), zap.Error(err))
			} else {
				fmt.Fprintln(stderr, "Error:", err)
			}
			// Teardown is skipped by cobra when RunE fails.
			_ = rt.teardown()
		}
		return err
	}
}

func (rt *app) setup(cmd *cobra.Command, v *viper.Viper, stderr io.Writer) error {
	if err := rt.config.load(v, rt.configPath); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}

	log, err := rt.config.Logging.New(stderr)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}
	rt.log = log

	if rt.config.MetricsPath != "" {
		rt.registry = prometheus.NewRegistry()
	}

	rt.tracer = opentracing.NoopTracer{}
	if rt.config.TracingType == "jaeger" {
		tracer, closer, err := tracing.NewJaegerTracer("dagmigrate")
		if err != nil {
			log.Error("Failed to initialize jaeger tracer", zap.Error(err))
			return err
		}
		rt.tracer = tracer
		rt.closers = append(rt.closers, closer)
		log.Info("Tracing enabled", zap.String("tracing-type", rt.config.TracingType))
	}

	cmd.SetContext(logger.NewContextWithLogger(cmd.Context(), log))
	return nil
}

// teardown writes the collected metrics and releases tracing resources. It
// is safe to call more than once.
func (rt *app) teardown() error {
	var firstErr error
	if rt.registry != nil {
		if err := writeMetrics(rt.config.MetricsPath, rt.registry); err != nil {
			rt.log.Error("Failed to write metrics", zap.String("path", rt.config.MetricsPath), zap.Error(err))
			firstErr = err
		}
		rt.registry = nil
	}
	for _, c := range rt.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rt.closers = nil
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return firstErr
}

// withEngine opens an engine for the resolved configuration, runs fn and
// closes the engine.
func (rt *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e engine) error) error {
	ctx := cmd.Context()
	var reg prometheus.Registerer
	if rt.registry != nil {
		reg = rt.registry
	}

	e, err := openEngine(ctx, &rt.config, logger.FromContext(ctx), reg, rt.tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			rt.log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	return fn(ctx, e)
}

func writeMetrics(path string, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

func newMigrateCommand(rt *app, dir dagmigrate.Direction) *cobra.Command {
	var (
		to     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:  dir.String(),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := parseID(to)
			if err != nil {
				return err
			}
			return rt.withEngine(cmd, func(ctx context.Context, e engine) error {
				return e.Migrate(ctx, cmd.OutOrStdout(), dir, target, dryRun)
			})
		},
	}
	if dir == dagmigrate.Up {
		cmd.Short = "Apply migrations along with their dependencies"
		cmd.Flags().StringVar(&to, "to", "", "apply only this migration and its dependencies")
	} else {
		cmd.Short = "Revert migrations along with their dependents"
		cmd.Flags().StringVar(&to, "to", "", "revert everything depending on this migration, leaving it applied")
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the migrations that would run without running them")
	return cmd
}

func newStatusCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations in the order they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withEngine(cmd, func(ctx context.Context, e engine) error {
				return e.Status(ctx, cmd.OutOrStdout())
			})
		},
	}
}

func newGraphCommand(rt *app) *cobra.Command {
	var (
		id         string
		dependents bool
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := parseID(id)
			if err != nil {
				return err
			}
			return rt.withEngine(cmd, func(ctx context.Context, e engine) error {
				return e.Graph(ctx, cmd.OutOrStdout(), root, dependents)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "only print this migration and what it reaches")
	cmd.Flags().BoolVar(&dependents, "dependents", false, "follow dependents instead of dependencies")
	return cmd
}

func newValidateCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the migrations and the applied state for consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withEngine(cmd, func(ctx context.Context, e engine) error {
				return e.Validate(ctx, cmd.OutOrStdout())
			})
		},
	}
}

func parseID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid migration id %q: %w", s, err)
	}
	return &id, nil
}
