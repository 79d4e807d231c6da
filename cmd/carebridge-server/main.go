package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/domain/conversation"
	"github.com/carebridge/carebridge/internal/domain/presence"
	"github.com/carebridge/carebridge/internal/domain/reminder"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/blobstore"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/internal/platform/middleware"
	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/internal/platform/realtime"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebridge-server",
		Short: "CareBridge messaging and reminder sync server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			withScheduler, _ := cmd.Flags().GetBool("scheduler")
			return runServer(withScheduler)
		},
	}
	cmd.Flags().Bool("scheduler", false,
		"Run the reminder scheduler in-process so reminder events reach tabs connected to this server")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the reminder scheduler worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer(withScheduler bool) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Realtime hub
	hub := realtime.NewHub(logger)

	// Notification sink: server-side emissions land in the log; the hub
	// carries them to open tabs.
	notifier := notification.NewManager(&notification.LogSender{Log: logger}, logger)

	// Attachment store
	blobs := blobstore.NewInMemoryStore("attachments")

	// Domain services
	convRepo := conversation.NewConversationRepoPG(pool)
	msgRepo := conversation.NewMessageRepoPG(pool)
	convSvc := conversation.NewService(convRepo, msgRepo, hub, logger)

	typing := presence.NewBroadcaster(hub, cfg.TypingDebounce(), cfg.TypingTTL(), logger)
	defer typing.Close()

	taskRepo := reminder.NewTaskReminderRepoPG(pool)
	medRepo := reminder.NewMedicationReminderRepoPG(pool)
	reminderSvc := reminder.NewService(taskRepo, medRepo)

	// The notification trigger runs in the browser session; it reads its
	// cadence (and the typing windows) from this endpoint rather than
	// hard-coding them client-side.
	settings := cfg.ClientSettings()

	// Routes
	apiV1 := e.Group("/api/v1")
	conversation.NewHandler(convSvc, typing, blobs, cfg.AttachmentURLTTL()).RegisterRoutes(apiV1)
	reminder.NewHandler(reminderSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifier).RegisterRoutes(apiV1)
	realtime.NewHandler(hub).RegisterRoutes(apiV1)
	apiV1.GET("/client-settings", func(c echo.Context) error {
		return c.JSON(http.StatusOK, settings)
	})

	// Optional in-process scheduler. Sharing the hub means reminder events
	// reach tabs connected to this server; the conditional claims keep it
	// safe to run alongside dedicated worker replicas.
	if withScheduler {
		sched := reminder.NewScheduler(taskRepo, medRepo, notifier, hub,
			reminder.SchedulerConfig{
				Interval: cfg.SchedulerInterval(),
				PageSize: cfg.SchedulerPageSize,
				Window:   cfg.MedicationWindow(),
			}, logger)
		schedCtx, stopSched := context.WithCancel(ctx)
		schedDone := make(chan struct{})
		go func() {
			sched.Run(schedCtx)
			close(schedDone)
		}()
		defer func() {
			stopSched()
			<-schedDone
		}()
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// This hub has no HTTP surface, so reminder events published here reach
	// no tabs; browser-facing fan-out needs the scheduler co-located with
	// the API process (serve --scheduler). Emission and claims still run
	// here, which is what a dedicated worker replica is for.
	hub := realtime.NewHub(logger)
	notifier := notification.NewManager(&notification.LogSender{Log: logger}, logger)

	scheduler := reminder.NewScheduler(
		reminder.NewTaskReminderRepoPG(pool),
		reminder.NewMedicationReminderRepoPG(pool),
		notifier,
		hub,
		reminder.SchedulerConfig{
			Interval: cfg.SchedulerInterval(),
			PageSize: cfg.SchedulerPageSize,
			Window:   cfg.MedicationWindow(),
		},
		logger,
	)

	// Cancel on signal; the in-flight cycle drains before Run returns.
	runCtx, cancel := context.WithCancel(ctx)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down worker")
		cancel()
	}()

	scheduler.Run(runCtx)
	logger.Info().Msg("worker stopped")
	return nil
}
