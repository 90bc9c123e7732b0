package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pouchrx/pouchrx/internal/config"
	"github.com/pouchrx/pouchrx/internal/domain/booking"
	"github.com/pouchrx/pouchrx/internal/domain/prescription"
	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
	"github.com/pouchrx/pouchrx/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pouchrx-server",
		Short: "Prescription-gated shop and consultation booking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedPrescriptionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			inMemory, _ := cmd.Flags().GetBool("in-memory")
			return runServer(inMemory)
		},
	}
	cmd.Flags().Bool("in-memory", false, "Keep all state in process instead of Postgres and Redis")
	return cmd
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
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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

// seedPrescriptionCmd issues an active prescription so a patient account can
// shop without waiting for document review.
func seedPrescriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-prescription",
		Short: "Issue an active prescription for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerRaw, _ := cmd.Flags().GetString("owner")
			strength, _ := cmd.Flags().GetInt("max-strength")
			units, _ := cmd.Flags().GetInt("units")

			owner, err := uuid.Parse(ownerRaw)
			if err != nil {
				return fmt.Errorf("--owner must be a uuid: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return fmt.Errorf("seed-prescription is only available in development (ENV=%q)", cfg.Env)
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := prescription.NewService(prescription.NewRepoPG(pool), nil, nil, clock.System{}, cfg.AllowanceCap, newLogger(cfg.IsDev()))
			issuer := auth.WithUser(ctx, uuid.Nil.String(), []string{auth.RoleDoctor})
			p, err := svc.Issue(issuer, prescription.IssueRequest{
				OwnerID:       owner,
				MaxStrengthMg: strength,
				TotalUnits:    units,
				Note:          "seeded",
			})
			if err != nil {
				return err
			}
			fmt.Printf("Issued prescription %s (max %d mg, %d units, expires %s)\n",
				p.ID, p.MaxStrengthMg, p.TotalUnitsAllowed, p.ExpiresAt.Format("2006-01-02"))
			return nil
		},
	}
	cmd.Flags().String("owner", "", "Patient user id")
	cmd.Flags().Int("max-strength", 6, "Maximum strength in mg (3, 6 or 9)")
	cmd.Flags().Int("units", 0, "Units allowed (defaults to ALLOWANCE_CAP)")
	return cmd
}

func runServer(inMemory bool) error {
	logger := newLogger(os.Getenv("ENV") == "development")

	if inMemory && os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", "memory://")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *stores
	if inMemory {
		logger.Warn().Msg("running with in-memory stores; state is lost on exit")
		st = memoryStores(cfg, clock.System{})
	} else {
		st, err = pgStores(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to backing stores")
		}
	}
	defer st.close()

	app := newApp(cfg, st, clock.System{}, logger)

	reaper := booking.NewReaper(cfg.ReservationSweepInterval, logger, app.sweeps...)
	go reaper.Run(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := app.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
