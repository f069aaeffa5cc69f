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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/medisync-core/internal/api"
	"github.com/hackgods/medisync-core/internal/appointment"
	"github.com/hackgods/medisync-core/internal/billing"
	"github.com/hackgods/medisync-core/internal/config"
	"github.com/hackgods/medisync-core/internal/db"
	"github.com/hackgods/medisync-core/internal/logging"
	"github.com/hackgods/medisync-core/internal/payment"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/resource"
	"github.com/hackgods/medisync-core/internal/slot"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Hospital scheduling, billing and equipment API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			conn, closeDB, err := db.Open(cmd.Context(), cfg.DBDriver, cfg.PostgresDSN, cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer closeDB()

			applied, err := db.NewMigrator(conn, cfg.DBDriver).Up(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Str("driver", cfg.DBDriver).Msg("migrations complete")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			conn, closeDB, err := db.Open(cmd.Context(), cfg.DBDriver, cfg.PostgresDSN, cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer closeDB()

			statuses, err := db.NewMigrator(conn, cfg.DBDriver).Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied && s.AppliedAt != nil {
					state = "applied " + s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%03d  %-30s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	})

	return cmd
}

func bootstrap() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config load error: %w", err)
	}
	return cfg, logging.New(cfg.Env, cfg.LogLevel), nil
}

func runServer(autoMigrate bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("driver", cfg.DBDriver).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCtx, cancelDB := context.WithTimeout(rootCtx, 10*time.Second)
	conn, closeDB, err := db.Open(dbCtx, cfg.DBDriver, cfg.PostgresDSN, cfg.SQLitePath)
	cancelDB()
	if err != nil {
		return fmt.Errorf("database connection error: %w", err)
	}
	defer closeDB()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	if autoMigrate {
		applied, err := db.NewMigrator(conn, cfg.DBDriver).Up(rootCtx)
		if err != nil {
			return err
		}
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	store := sqlstore.New(conn, dialect, sqlstore.Options{
		TxTimeout:   cfg.TxTimeout,
		MaxAttempts: cfg.TxMaxAttempts,
		LockTimeout: cfg.PGLockTimeout,
		Logger:      logger,
	})

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, keyed locks are held in process")
	}
	locker := redisclient.NewLocker(rdb, redisclient.LockOptions{
		TTL:        cfg.LockTTL,
		Attempts:   cfg.LockAttempts,
		RetryDelay: cfg.LockRetryDelay,
	})

	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn().Msg("JWT_SECRET not set, using the development secret")
		secret = api.DevSecret
	}

	router := api.NewRouter(api.RouterConfig{
		Slots:        slot.NewService(store, logger),
		Appointments: appointment.NewService(store, locker, logger),
		Billing:      billing.NewService(store, locker, logger),
		Payments:     payment.NewService(store, locker, logger),
		Resources:    resource.NewService(store, locker, logger),
		Store:        store,
		Driver:       cfg.DBDriver,
		Redis:        rdb,
		JWTSecret:    secret,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
