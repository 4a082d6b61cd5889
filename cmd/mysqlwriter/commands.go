package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ruslano69/mysqlwriter/pkg/adapters/mysql"
	"github.com/ruslano69/mysqlwriter/pkg/config"
	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/pipeline"
	"github.com/ruslano69/mysqlwriter/pkg/resultlog"
)

const defaultConfigPath = "/data/config.json"

// inspector is the read-only part of a writer session.
type inspector interface {
	TestConnection(ctx context.Context) error
	ShowTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, name string) ([]mysql.ColumnInfo, error)
	Close() error
}

type inspectFunc func(ctx context.Context, ep mysql.Endpoint, logger zerolog.Logger) (inspector, error)

type writerInspector struct {
	*mysql.Writer
	conn *mysql.Conn
}

func (w *writerInspector) Close() error {
	return w.conn.Close()
}

func connectInspector(ctx context.Context, ep mysql.Endpoint, logger zerolog.Logger) (inspector, error) {
	conn, err := mysql.Connect(ctx, ep, mysql.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &writerInspector{Writer: mysql.NewWriter(conn, logger), conn: conn}, nil
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logFormat  string
	logLevel   string

	logger zerolog.Logger
	cfg    *config.Config
	// started is set once cobra has accepted the command line
	started bool

	connect pipeline.Connector
	inspect inspectFunc
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:  stdout,
		stderr:  stderr,
		logger:  zerolog.New(stderr).With().Timestamp().Logger(),
		connect: pipeline.Connect,
		inspect: connectInspector,
	}
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(args)
}

func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && !a.started {
		err = failure.Configf("%v", err)
	}
	if err != nil {
		a.reportError(err)
	}
	return failure.ExitCode(err)
}

func (a *app) reportError(err error) {
	kind := failure.KindOf(err)
	evt := a.logger.Error().Str("kind", kind.String())

	var fe *failure.Error
	if errors.As(err, &fe) && fe.Query != "" {
		evt = evt.Str("query", fe.Query)
	}
	if kind == failure.KindInternal {
		evt.Err(err).Msg("Application error")
		return
	}
	evt.Msg(err.Error())
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mysqlwriter",
		Short:         "Load CSV tables into MySQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Path to the YAML or JSON configuration")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", logFormatJSON, "Log format (console, json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return failure.Configf("%v", err)
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Write all exported tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.run(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "test-connection",
			Short: "Connect to the database and run a trivial query",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.testConnection(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "tables-info",
			Short: "List tables of the database with their columns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.tablesInfo(cmd.Context())
			},
		},
	)

	return root
}

// setup configures logging and loads the configuration before any action.
func (a *app) setup() error {
	a.started = true

	logger, err := newLogger(a.logFormat, a.logLevel, a.stderr)
	if err != nil {
		return failure.Configf("%v", err)
	}
	a.logger = logger

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) run(ctx context.Context) error {
	processor := pipeline.NewProcessor(a.cfg, a.logger, pipeline.WithConnector(a.connect))
	result, runErr := processor.Run(ctx)

	if a.cfg.ResultLog != nil {
		publisher := resultlog.NewRedisPublisher(*a.cfg.ResultLog)
		if err := publisher.Publish(ctx, a.cfg.DB.Database, result); err != nil {
			a.logger.Warn().Err(err).Msg("Unable to publish result")
		}
		publisher.Close()
	}

	if err := a.printJSON(result); err != nil {
		return err
	}
	return runErr
}

func (a *app) testConnection(ctx context.Context) error {
	session, err := a.inspect(ctx, a.cfg.Endpoint(), a.logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.TestConnection(ctx); err != nil {
		return err
	}
	return a.printJSON(map[string]string{"status": "success"})
}

// tableInfo is one entry of the tables-info output.
type tableInfo struct {
	Name    string             `json:"name"`
	Columns []mysql.ColumnInfo `json:"columns"`
}

func (a *app) tablesInfo(ctx context.Context) error {
	session, err := a.inspect(ctx, a.cfg.Endpoint(), a.logger)
	if err != nil {
		return err
	}
	defer session.Close()

	names, err := session.ShowTables(ctx)
	if err != nil {
		return err
	}

	tables := make([]tableInfo, 0, len(names))
	for _, name := range names {
		columns, err := session.Describe(ctx, name)
		if err != nil {
			return err
		}
		tables = append(tables, tableInfo{Name: name, Columns: columns})
	}

	return a.printJSON(map[string]any{"status": "success", "tables": tables})
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return failure.Internal(err, "write output")
	}
	return nil
}
