package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnizeh/timesheets/api"
	dbfs "github.com/garnizeh/timesheets/db"
	"github.com/garnizeh/timesheets/internal/config"
	"github.com/garnizeh/timesheets/internal/db"
	"github.com/garnizeh/timesheets/internal/jobs"
	"github.com/garnizeh/timesheets/internal/mail"
	"github.com/garnizeh/timesheets/internal/notify"
	"github.com/garnizeh/timesheets/internal/repository/sqlite"
	"github.com/garnizeh/timesheets/pkg/models"
)

var (
	version   = "dev"
	buildTime = "unknown"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "timesheets",
	Short:         "Driver timesheets with client approval links",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the background job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		logger.Info("starting timesheets server", slog.String("version", version), slog.String("build_time", buildTime))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := openDB(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		mailer, err := mail.New(cfg.SMTP)
		if err != nil {
			return fmt.Errorf("configure mail: %w", err)
		}
		if !mailer.IsEnabled() {
			logger.Warn("smtp credentials missing; approval emails will not be sent")
		}

		pool := jobs.NewWorkerPool(jobs.NewRepository(conn), nil, logger, cfg.Jobs.Workers)
		dispatcher := notify.NewDispatcher(pool, mailer, cfg.PublicBaseURL, logger)
		dispatcher.Register(pool)

		api.SetLogger(logger)
		handler, err := api.SetupRoutes(cfg, version, buildTime, conn, dispatcher)
		if err != nil {
			return fmt.Errorf("setup routes: %w", err)
		}

		server := &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.APITimeout,
			WriteTimeout: cfg.APITimeout,
			IdleTimeout:  60 * time.Second,
		}

		workerCtx, cancelWorkers := context.WithCancel(context.Background())
		defer cancelWorkers()
		pool.Start(workerCtx)

		errc := make(chan error, 1)
		go func() {
			logger.Info("server listening", slog.String("addr", cfg.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			if err != nil {
				pool.Stop()
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}
		logger.Info("shutting down server")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", slog.Any("err", err))
		}

		cancelWorkers()
		pool.Stop()
		logger.Info("server exited")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		conn, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		v, err := db.Version(cmd.Context(), conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", v)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Write a consistent copy of the database to file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		dest, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists", dest)
		}

		conn, err := db.New(cmd.Context(), cfg.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.Exec(cmd.Context(), `VACUUM INTO ?`, dest); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", dest)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the database with a backup. The server must be stopped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		src, err := db.New(cmd.Context(), args[0], logger)
		if err != nil {
			return err
		}
		var check string
		err = src.QueryRow(cmd.Context(), `PRAGMA integrity_check`).Scan(&check)
		src.Close()
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		if check != "ok" {
			return fmt.Errorf("backup failed integrity check: %s", check)
		}

		if err := copyFile(args[0], cfg.DatabasePath); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database restored from %s\n", args[0])
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <email>",
	Short: "Mint a bearer token for an existing user (development only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if !cfg.IsDevelopment() {
			return fmt.Errorf("token minting is disabled in env %q", cfg.Env)
		}

		conn, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		u, err := sqlite.New(conn, logger).GetUserByEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("no user with email %s", args[0])
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.TokenDuration
		}
		tok, err := api.IssueToken(cfg.JWTSecret, u, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-admin <email>",
	Short: "Create the first super_admin user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("TS_BOOTSTRAP_PASSWORD")
		}
		hash, err := api.HashPassword(password)
		if err != nil {
			return err
		}

		conn, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		repo := sqlite.New(conn, logger)
		email := strings.TrimSpace(args[0])
		existing, err := repo.GetUserByEmail(cmd.Context(), email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("user %s already exists", email)
		}

		name, _ := cmd.Flags().GetString("name")
		id, err := repo.CreateUser(cmd.Context(), &models.User{Email: email, Name: name, Role: models.RoleSuperAdmin, PasswordHash: hash})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created super_admin %s (id %d)\n", email, id)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file")

	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to token_duration)")
	bootstrapCmd.Flags().String("password", "", "Password (or TS_BOOTSTRAP_PASSWORD)")
	bootstrapCmd.Flags().String("name", "Administrator", "Display name")

	rootCmd.AddCommand(serveCmd, migrateCmd, backupCmd, restoreCmd, tokenCmd, bootstrapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openDB opens the database and applies pending migrations.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, dbfs.Migrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dst + suffix)
	}
	return os.Rename(tmp.Name(), dst)
}
