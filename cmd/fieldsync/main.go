package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/fieldsync/internal/config"
	"github.com/vonshlovens/fieldsync/internal/connectivity"
	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/media"
	"github.com/vonshlovens/fieldsync/internal/session"
	"github.com/vonshlovens/fieldsync/internal/sync"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
	"github.com/vonshlovens/fieldsync/internal/watcher"
)

var (
	cfgFile string
	logFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fieldsync",
		Short:   "Offline-first field data store and sync tool",
		Long:    `Keeps appointments, assessments and photos in an on-device store and reconciles them with the sync server when connectivity allows.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated")

	rootCmd.AddCommand(
		initCmd(),
		migrateCmd(),
		statusCmd(),
		syncCmd(),
		pullCmd(),
		mediaCmd(),
		watchCmd(),
		debugCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})))
}

// app is everything a command needs, wired from the loaded config
type app struct {
	cfg     *config.Config
	db      *db.DB
	session *session.Session
	client  *syncclient.Client
	checker connectivity.Checker
	media   *media.Manager
	engine  *sync.Engine
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Open(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := database.RunMigrations(ctx); err != nil {
		database.Close()
		return nil, err
	}

	stateDir, err := config.GetStateDir()
	if err != nil {
		database.Close()
		return nil, err
	}
	sess, err := session.Load(stateDir, cfg.UserID)
	if err != nil {
		database.Close()
		return nil, err
	}

	client := syncclient.New(&cfg.Server, &cfg.Sync)
	checker := connectivity.NewNetChecker(cfg.Server.ProbeURL(), cfg.Server.Timeout(), nil)
	mgr := media.NewManager(database, afero.NewOsFs(), client, sess, media.Options{
		Dir:             cfg.Storage.MediaDir,
		IncludePatterns: cfg.Media.IncludePatterns,
		MaxFileSize:     cfg.Media.MaxFileSize(),
	})

	engine := sync.NewEngine(database, client, checker, sess, &cfg.Sync, sync.WithMedia(mgr))

	return &app{
		cfg:     cfg,
		db:      database,
		session: sess,
		client:  client,
		checker: checker,
		media:   mgr,
		engine:  engine,
	}, nil
}

func (a *app) Close() {
	if err := a.session.Save(); err != nil {
		slog.Warn("failed to save session", "error", err)
	}
	a.db.Close()
}

func initCmd() *cobra.Command {
	var (
		userID  string
		baseURL string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long:  `Writes config.yaml with default settings to the config directory. The API token is read from FIELDSYNC_API_TOKEN at load time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || baseURL == "" {
				return fmt.Errorf("--user and --server are required")
			}

			cfg := config.DefaultConfig()
			cfg.UserID = userID
			cfg.Server.BaseURL = baseURL
			cfg.Server.Token = "${FIELDSYNC_API_TOKEN}"

			content, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			configPath := cfgFile
			if configPath == "" {
				dir, err := config.GetStateDir()
				if err != nil {
					return err
				}
				configPath = filepath.Join(dir, "config.yaml")
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}

			if err := os.WriteFile(configPath, content, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("Config file written to: %s\n", configPath)
			fmt.Println("\nSet the API token before syncing:")
			fmt.Println("  export FIELDSYNC_API_TOKEN='...'")
			fmt.Println("\nTo check connectivity and pending changes, run: fieldsync status")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "surveyor email / user id")
	cmd.Flags().StringVar(&baseURL, "server", "", "sync server base URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			database, err := db.Open(ctx, &cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			defer database.Close()

			if err := database.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Migrations completed successfully.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pending changes and last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.engine.PendingCount(ctx)
			if err != nil {
				return fmt.Errorf("failed to count pending changes: %w", err)
			}
			st := a.checker.Check(ctx)

			fmt.Println("=== Fieldsync Status ===")
			fmt.Printf("User:      %s\n", a.session.UserID())
			fmt.Printf("Device:    %s\n", a.session.DeviceID())
			fmt.Printf("Server:    %s\n", a.cfg.Server.BaseURL)
			if st.Online() {
				fmt.Println("Network:   online")
			} else {
				fmt.Printf("Network:   offline (%v)\n", st.Err())
			}
			fmt.Println()
			fmt.Println("Pending changes:")
			fmt.Printf("  Appointments: %d\n", counts.Appointments)
			fmt.Printf("  Masters:      %d\n", counts.Masters)
			fmt.Printf("  Items:        %d\n", counts.Items)
			if a.cfg.Sync.PropagateDeletes {
				fmt.Printf("  Deletions:    %d\n", counts.Deletions)
			}
			fmt.Printf("  Photos:       %d\n", counts.Media)
			fmt.Println()

			if last := a.session.LastSync(); last != nil {
				outcome := "ok"
				if !last.Success {
					outcome = "failed"
				}
				fmt.Printf("Last sync: %s (%s: %s)\n", humanize.Time(last.At), outcome, last.Message)
			} else {
				fmt.Println("Last sync: never")
			}
			if at := a.session.LastPullAt(); at != nil {
				fmt.Printf("Last pull: %s\n", humanize.Time(*at))
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var withMedia bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit pending changes to the server",
		Long:  `Submits every pending appointment, master and item in one request. With --with-media, photos are uploaded around the data sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !withMedia {
				return report(a.engine.SyncPendingChanges(ctx))
			}

			var bar *progressbar.ProgressBar
			res := a.engine.SyncAll(ctx, func(p sync.Progress) {
				if p.Total == 0 {
					return
				}
				if bar == nil {
					bar = progressbar.NewOptions(p.Total,
						progressbar.OptionSetDescription("Syncing"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetWidth(40),
						progressbar.OptionClearOnFinish(),
					)
				}
				bar.Describe(p.Stage)
				_ = bar.Set(p.Completed)
			})
			if bar != nil {
				_ = bar.Finish()
			}

			for _, m := range res.Media {
				if err := m.Err(); err != nil {
					fmt.Printf("Photo upload: %v\n", err)
				}
			}
			if err := report(res.Data); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMedia, "with-media", false, "upload pending photos as well")
	return cmd
}

// report prints a sync result. Being offline is not a command failure.
func report(res sync.Result) error {
	switch {
	case res.Offline:
		fmt.Println(res.Message)
		fmt.Println("Changes are kept locally and will be sent on the next sync.")
		return nil
	case !res.Success:
		for _, r := range res.Rejected {
			fmt.Printf("  rejected %s %d: %s\n", r.EntityType, r.ID, r.Reason)
		}
		return fmt.Errorf("sync failed: %s", res.Message)
	}
	fmt.Println(res.Message)
	if res.Remapped > 0 {
		fmt.Printf("%d new records received server ids.\n", res.Remapped)
	}
	return nil
}

func pullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download server data into the local store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "appointments",
		Short: "Refresh the surveyor's appointments",
		Long:  `Downloads the surveyor's appointments. Appointments with unsynced local edits are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.PullAppointments(ctx)
			if errors.Is(err, connectivity.ErrOffline) {
				fmt.Println("Currently offline, showing cached data")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Fetched %d appointments, stored %d, kept %d with local edits.\n", res.Fetched, res.Stored, res.SkippedDirty)
			return nil
		},
	})
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever local data changes and on an interval",
		Long:  `Watches the media and database directories and runs a full sync after each burst of changes and on the configured interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// the session file and logs can share the database directory and
			// are written by every sync run
			ignore := append(slices.Clone(a.cfg.Watch.IgnorePatterns), "session.json", "config.yaml", "**/*.log")
			w, err := watcher.NewWatcher(
				[]string{a.cfg.Storage.MediaDir, filepath.Dir(a.cfg.Storage.DatabasePath)},
				time.Duration(a.cfg.Sync.DebounceMs)*time.Millisecond,
				ignore,
			)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			var tick <-chan time.Time
			if iv := a.cfg.Sync.Interval(); iv > 0 {
				ticker := time.NewTicker(iv)
				defer ticker.Stop()
				tick = ticker.C
			}

			run := func(trigger string) {
				res := a.engine.SyncAll(ctx, nil)
				slog.Info("sync run", "trigger", trigger, "success", res.Success, "message", res.Message)
			}

			slog.Info("watch started", "media", a.cfg.Storage.MediaDir, "database", a.cfg.Storage.DatabasePath)
			fmt.Println("Watching for changes. Press Ctrl+C to stop.")
			run("startup")

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down...")
					cancel()
					return w.Stop()

				case burst, ok := <-w.Bursts():
					if !ok {
						return nil
					}
					slog.Debug("change burst", "events", len(burst.Events))
					run("change")

				case <-tick:
					run("interval")
				}
			}
		},
	}
}
