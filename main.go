// Package main provides the zenith CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/zenith/internal/config"
	"github.com/bryan-buckman/zenith/internal/database"
	"github.com/bryan-buckman/zenith/internal/feedsync"
	"github.com/bryan-buckman/zenith/internal/logging"
	"github.com/bryan-buckman/zenith/internal/opml"
	"github.com/bryan-buckman/zenith/internal/rss"
	"github.com/bryan-buckman/zenith/internal/server"
	"github.com/bryan-buckman/zenith/internal/storage"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components opened for one command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      database.Store
	session *feedsync.Session
}

func openApp(configPath string, logOut io.Writer) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, logOut)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("Database opened", slog.String("type", db.DatabaseType()))

	userAgent := cfg.Feeds.UserAgent
	if userAgent == "" {
		userAgent = "zenith/" + version
	}
	fetcher := rss.NewFetcher(
		rss.WithTimeout(cfg.Feeds.FetchTimeout),
		rss.WithUserAgent(userAgent),
		rss.WithLogger(logger),
	)
	session := feedsync.NewSession(storage.New(db), fetcher, opml.Parser{}, feedsync.WithLogger(logger))
	return &app{cfg: cfg, log: logger, db: db, session: session}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newRootCmd creates the root command for the zenith CLI.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "zenith",
		Short:        "Subscribe to RSS/Atom feeds and read them offline-first",
		Long:         "Zenith keeps a list of feed subscriptions, caches their posts locally and refreshes them on demand.",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("zenith version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the YAML config file")

	// withApp opens the app for a subcommand and closes it afterwards.
	withApp := func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, args, a)
		}
	}

	rootCmd.AddCommand(newServeCmd(withApp))
	rootCmd.AddCommand(newAddCmd(withApp))
	rootCmd.AddCommand(newRemoveCmd(withApp))
	rootCmd.AddCommand(newListCmd(withApp))
	rootCmd.AddCommand(newImportCmd(withApp))
	rootCmd.AddCommand(newExportCmd(withApp))
	rootCmd.AddCommand(newRefreshCmd(withApp))
	rootCmd.AddCommand(newConfigCmd(&configPath))

	return rootCmd
}

type appRunner func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error

// newServeCmd creates the serve subcommand.
func newServeCmd(withApp appRunner) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.session.Load(ctx, a.cfg.Feeds.DefaultOPMLURL); err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return server.New(a.session, a.log).Start(ctx, addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// newAddCmd creates the add subcommand.
func newAddCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if _, err := a.session.Subscriptions.Load(ctx); err != nil {
				return err
			}
			feed, err := a.session.Subscriptions.Add(ctx, args[0])
			if feed.ID == "" {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", feed.Title, feed.URL)
			return err
		}),
	}
}

// newRemoveCmd creates the remove subcommand.
func newRemoveCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Unsubscribe from a feed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if _, err := a.session.Subscriptions.Load(ctx); err != nil {
				return err
			}
			if err := a.session.Subscriptions.Remove(ctx, feedsync.CanonicalURL(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		}),
	}
}

// newListCmd creates the list subcommand.
func newListCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscribed feeds",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			feeds, err := a.session.Subscriptions.Load(cmd.Context())
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No feeds.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tURL")
			for _, f := range feeds {
				fmt.Fprintf(tw, "%s\t%s\n", f.Title, f.URL)
			}
			return tw.Flush()
		}),
	}
}

// newImportCmd creates the import subcommand.
func newImportCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "import <opml-url>",
		Short: "Subscribe to every feed of a remote OPML document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if _, err := a.session.Subscriptions.Load(ctx); err != nil {
				return err
			}
			added, err := a.session.Subscriptions.ImportFromOutline(ctx, args[0])
			if err != nil && len(added) == 0 {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new feeds\n", len(added))
			return err
		}),
	}
}

// newExportCmd creates the export subcommand.
func newExportCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write subscriptions as OPML to stdout",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			feeds, err := a.session.Subscriptions.Load(cmd.Context())
			if err != nil {
				return err
			}
			data, err := opml.Export("Zenith Feeds", feeds)
			if err != nil {
				return fmt.Errorf("export opml: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}

// newRefreshCmd creates the refresh subcommand.
func newRefreshCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the last selected feed and update its cache",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.session.Load(cmd.Context(), ""); err != nil {
				return err
			}
			snap := a.session.State.Snapshot()
			if snap.SelectedFeed == nil {
				return errors.New("no feeds to refresh")
			}
			if snap.Error != "" {
				return fmt.Errorf("refresh %s: %s", snap.SelectedFeed.URL, snap.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s: %d posts\n", snap.SelectedFeed.Title, len(snap.Posts))
			return nil
		}),
	}
}

// newConfigCmd creates the config subcommand.
func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := *configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
