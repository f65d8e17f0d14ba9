// Package main implements the calendar digest notifier: a service that
// watches calendars and sends daily, weekly and change digests to Telegram.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"calendar-notifier/calendar"
	"calendar-notifier/config"
	"calendar-notifier/engine"
	"calendar-notifier/format"
	"calendar-notifier/pkg/digest"
	"calendar-notifier/schedule"
	"calendar-notifier/server"
	"calendar-notifier/storage"
	"calendar-notifier/telegram"
)

// tickInterval is how often the schedule is evaluated; each job gates
// itself on its own cadence.
const tickInterval = 30 * time.Second

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "calnotify",
		Short: "Calendar digest notifier for Telegram",
	}

	rootCmd.AddCommand(serveCmd(logger))
	rootCmd.AddCommand(pollCmd(logger))
	rootCmd.AddCommand(sendCmd(logger))
	rootCmd.AddCommand(authCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired service components.
type app struct {
	engine  *engine.Engine
	cleanup func()
	port    string
}

func buildApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(ctx, cfg, loc, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	rules, err := format.LoadRules(cfg.Digest.RulesFile)
	if err != nil {
		cleanup()
		return nil, err
	}

	state, err := store.LoadSchedule(ctx)
	if err != nil {
		if !storage.IsNotFound(err) {
			cleanup()
			return nil, fmt.Errorf("load schedule state: %w", err)
		}
		state = &digest.ScheduleState{LastFired: make(map[digest.JobKind]time.Time)}
		logger.Info("No schedule state found, starting fresh")
	}

	daily, err := schedule.ParseJob(digest.JobDailyDigest, cfg.Schedule.Daily)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("parse daily schedule: %w", err)
	}
	weekly, err := schedule.ParseJob(digest.JobWeeklyDigest, cfg.Schedule.Weekly)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("parse weekly schedule: %w", err)
	}
	jobs := []schedule.Job{
		schedule.EveryJob(digest.JobPollTick, cfg.Schedule.PollInterval),
		daily,
		weekly,
	}

	eng := engine.New(&engine.Config{
		Calendar:          provider,
		Store:             store,
		Sender:            buildSender(cfg, logger),
		Composer:          format.NewComposer(rules, loc),
		Scheduler:         schedule.New(store, jobs, state, time.Now().In(loc), logger),
		Logger:            logger,
		IsNotFound:        storage.IsNotFound,
		Location:          loc,
		WeekStart:         cfg.Schedule.WeekStart,
		UpdateWindowStart: cfg.Digest.UpdateWindowStart,
		UpdateWindowEnd:   cfg.Digest.UpdateWindowEnd,
		MinUpdateInterval: cfg.Digest.MinUpdateInterval,
		PersistBeforeSend: cfg.Digest.PersistBeforeSend,
	})

	return &app{engine: eng, cleanup: cleanup, port: cfg.Port}, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.Storage.UseGCS() {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Using Cloud Storage bucket", "bucket", cfg.Storage.Bucket)
		return storage.New(client, cfg.Storage.Bucket, "", logger), cleanup, nil
	}

	if err := os.MkdirAll(cfg.Storage.LocalDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create local storage directory: %w", err)
	}
	logger.Info("Using local storage", "path", cfg.Storage.LocalDir)
	return storage.New(nil, "", cfg.Storage.LocalDir, logger), func() {}, nil
}

func buildProvider(ctx context.Context, cfg *config.Config, loc *time.Location, logger *slog.Logger) (engine.Calendar, error) {
	if auth, ok := googleAuth(cfg); ok {
		svc, err := calendar.NewService(ctx, auth)
		if err != nil {
			return nil, fmt.Errorf("create calendar service: %w", err)
		}
		logger.Info("Using Google Calendar", "calendars", cfg.Google.Calendars)
		return calendar.NewGoogleProvider(svc, cfg.Google.Calendars, loc, logger), nil
	}

	if cfg.ICS.Enabled() {
		logger.Info("Using ICS feeds", "feed_count", len(cfg.ICS.URLs))
		return calendar.NewICSProvider(cfg.ICS.URLs, loc, cfg.ICS.FetchTimeout, logger), nil
	}

	logger.Warn("No calendar credentials configured, using mock events")
	return calendar.NewMockProvider(logger), nil
}

// googleAuth reports whether Google Calendar access is configured, either
// through service account credentials or a stored OAuth token.
func googleAuth(cfg *config.Config) (calendar.GoogleAuth, bool) {
	if cfg.Google.CredentialsJSON != "" {
		return calendar.GoogleAuth{CredentialsJSON: cfg.Google.CredentialsJSON}, true
	}
	if _, err := os.Stat(cfg.Google.TokenPath); err == nil {
		return calendar.GoogleAuth{
			ClientSecretPath: cfg.Google.ClientSecretPath,
			TokenPath:        cfg.Google.TokenPath,
		}, true
	}
	return calendar.GoogleAuth{}, false
}

func buildSender(cfg *config.Config, logger *slog.Logger) *telegram.Sender {
	if cfg.Telegram.Enabled() {
		return telegram.New(telegram.NewBotProvider(cfg.Telegram.BotToken, logger), cfg.Telegram.ChatID, logger)
	}
	logger.Warn("No Telegram credentials configured, using mock sender")
	return telegram.New(telegram.NewMockProvider(logger), cfg.Telegram.ChatID, logger)
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the digest loop and HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.cleanup()

			go app.engine.Run(ctx, tickInterval)

			srv := server.New(&server.Config{Runner: app.engine, Logger: logger})
			return srv.ListenAndServe(ctx, app.port)
		},
	}
}

func pollCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one change poll and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer app.cleanup()

			return app.engine.RunKind(cmd.Context(), digest.JobPollTick)
		},
	}
}

func sendCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "send [daily|weekly]",
		Short: "Send a digest now and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind digest.JobKind
			switch args[0] {
			case "daily":
				kind = digest.JobDailyDigest
			case "weekly":
				kind = digest.JobWeeklyDigest
			default:
				return fmt.Errorf("unknown digest kind %q, want daily or weekly", args[0])
			}

			app, err := buildApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer app.cleanup()

			return app.engine.RunKind(cmd.Context(), kind)
		},
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar access and save the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return calendar.Authorize(cmd.Context(), cfg.Google.ClientSecretPath, cfg.Google.TokenPath, os.Stdin, os.Stdout)
		},
	}
}
