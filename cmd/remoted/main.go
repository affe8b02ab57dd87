// Command remoted serves a remote store over HTTP for agents that are
// configured with REELSYNC_REMOTE_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/remote/fsblob"
	"github.com/reelsync/reelsync-agent/internal/remote/server"
	"github.com/reelsync/reelsync-agent/internal/remote/sqltree"
)

const envToken = "REELSYNC_REMOTED_TOKEN"

type options struct {
	Addr     string
	Driver   string
	DSN      string
	DataDir  string
	Token    string
	LogLevel string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "remoted",
		Short: "Serve a shared project tree and blob store",
		Long: `Serve the project tree and clip blobs that agents sync against.

The tree lives in sqlite (default) or postgres; blobs live under --data-dir/blobs.

Example:
  remoted --addr :9000 --data-dir /srv/reelsync
  remoted --driver postgres --dsn "postgres://reelsync@db/reelsync?sslmode=disable"`,
		Version:       config.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":9000", "listen address")
	cmd.Flags().StringVar(&opts.Driver, "driver", sqltree.DriverSQLite, "tree database driver (sqlite|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "tree database DSN (defaults to <data-dir>/tree.db for sqlite)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "reelsync-remote", "directory for blobs and the sqlite tree")
	cmd.Flags().StringVar(&opts.Token, "token", os.Getenv(envToken), "bearer token required from agents (empty disables auth)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")

	return cmd
}

func (o *options) validate() error {
	switch o.Driver {
	case sqltree.DriverSQLite:
		if o.DSN == "" {
			o.DSN = filepath.Join(o.DataDir, "tree.db")
		}
	case sqltree.DriverPostgres:
		if o.DSN == "" {
			return fmt.Errorf("--dsn is required for driver %q", o.Driver)
		}
	default:
		return fmt.Errorf("invalid driver %q: must be %s or %s", o.Driver, sqltree.DriverSQLite, sqltree.DriverPostgres)
	}
	return nil
}

func run(ctx context.Context, opts *options) error {
	logger := logging.NewLogger(opts.LogLevel)

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tree, err := sqltree.Open(opts.Driver, opts.DSN)
	if err != nil {
		return err
	}
	defer tree.Close()

	blobs, err := fsblob.New(filepath.Join(opts.DataDir, "blobs"))
	if err != nil {
		return err
	}

	if opts.Token == "" {
		logger.Warn("authentication disabled, any client can read and write")
	}

	h := server.NewHandler(server.Config{
		Tree:   tree,
		Blobs:  blobs,
		Token:  opts.Token,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("remote store ready", "driver", opts.Driver, "data_dir", logging.SanitizePath(opts.DataDir))
	return server.Serve(ctx, opts.Addr, h, logger)
}
