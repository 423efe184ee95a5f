package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matryer/try"
	"github.com/rflorenc/jenkins-workbench/internal/api"
	"github.com/rflorenc/jenkins-workbench/internal/config"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app is the state shared by all commands, filled in by the root command's
// flags and config file.
type app struct {
	configFile string
	connection string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "workbench",
		Short: "Manage CloudBees CI operations centers and their managed masters",
		Long: `workbench talks to a CloudBees CI operations center and the managed masters
it provisions: it lists masters, resolves their endpoints, reads and writes
job configuration, triggers builds and copies jobs between masters.

Run "workbench serve" to expose the same operations over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Load(a.configFile); err != nil {
				return err
			}

			// Initialize logger
			zcfg := zap.NewProductionConfig()
			zcfg.OutputPaths = []string{"stderr"}
			if a.cfg.Verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger

			try.MaxRetries = a.cfg.Poll.MaxAttempts
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	// Global flags
	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to config file (YAML)")
	flags.StringVarP(&a.connection, "connection", "c", "", "Configured connection to use (default: the only one)")
	flags.BoolVarP(&a.cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.DurationVar(&a.cfg.Poll.Interval, "poll-interval", 0, "Pause between queue and build polls (default 3s)")
	flags.IntVar(&a.cfg.Poll.MaxAttempts, "max-polls", 0, "Polls before giving up on a queued build (default 200)")

	root.AddCommand(
		a.serveCmd(),
		a.mastersCmd(),
		a.endpointCmd(),
		a.jobsCmd(),
		a.buildCmd(),
		a.queueCmd(),
		a.configCmd(),
		a.copyJobCmd(),
		a.inventoryCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// The version needs no config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "workbench %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// client builds a client for the selected connection.
func (a *app) client() (*jenkins.Client, *models.Connection, error) {
	cc, err := a.cfg.Find(a.connection)
	if err != nil {
		return nil, nil, err
	}
	conn, err := cc.Connection()
	if err != nil {
		return nil, nil, err
	}
	return jenkins.NewClient(conn, a.logger), conn, nil
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workbench HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.cfg.Listen, "listen", "", "HTTP listen address (default :8080)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	server := &api.Server{
		Connections:  models.NewConnectionStore(),
		Jobs:         models.NewJobStore(),
		Logger:       a.logger,
		PollInterval: a.cfg.Poll.Interval,
	}

	// Load pre-configured connections from config file
	for _, cc := range a.cfg.Connections {
		conn, err := cc.Connection()
		if err != nil {
			return err
		}
		server.Connections.Create(conn)
		a.logger.Info("loaded connection", zap.String("name", conn.Name), zap.String("url", conn.OperationsCenterURL()))

		// Verify connectivity and auth early
		jenkins.DiscoverAndStore(jenkins.NewClient(conn, a.logger), conn, server.Connections, a.logger)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: a.cfg.Listen, Handler: api.NewRouter(server)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("workbench starting", zap.String("version", version), zap.String("listen", a.cfg.Listen))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
