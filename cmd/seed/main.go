package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/medisync-core/internal/config"
	"github.com/hackgods/medisync-core/internal/db"
	"github.com/hackgods/medisync-core/internal/logging"
	"github.com/hackgods/medisync-core/internal/slot"
	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var equipment = []string{
	"MRI Scanner",
	"CT Scanner",
	"X-Ray Machine",
	"Ultrasound",
	"ECG Monitor",
	"Ventilator",
	"Defibrillator",
	"Infusion Pump",
	"Dialysis Machine",
	"Surgical Robot",
}

type seedOptions struct {
	doctors   int
	patients  int
	resources int
	seed      uint64
}

func main() {
	var opts seedOptions
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with fake doctors, patients and equipment, then generate slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *sqlstore.Store, logger zerolog.Logger) error {
				if err := seedPeople(ctx, store, opts, logger); err != nil {
					return err
				}
				_, err := slot.NewService(store, logger).GenerateAndStore(ctx, store, slot.GenerateOptions{Days: 30})
				return err
			})
		},
	}
	rootCmd.Flags().IntVar(&opts.doctors, "doctors", 20, "doctors to create")
	rootCmd.Flags().IntVar(&opts.patients, "patients", 200, "patients to create")
	rootCmd.Flags().IntVar(&opts.resources, "resources", len(equipment), "equipment items to create")
	rootCmd.Flags().Uint64Var(&opts.seed, "seed", 0, "fake data seed, 0 picks one from the clock")

	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// slotsCmd runs only the slot generation job.
func slotsCmd() *cobra.Command {
	var (
		doctorID int64
		days     int
		clear    bool
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Generate appointment slots from each doctor's working hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *sqlstore.Store, logger zerolog.Logger) error {
				opts := slot.GenerateOptions{Days: days, Clear: clear}
				if doctorID > 0 {
					opts.DoctorID = &doctorID
				}
				res, err := slot.NewService(store, logger).GenerateAndStore(ctx, store, opts)
				if err != nil {
					return err
				}
				fmt.Printf("doctors=%d created=%d cleared=%d\n", res.Doctors, res.Created, res.Cleared)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&doctorID, "doctor", 0, "only this doctor id")
	cmd.Flags().IntVar(&days, "days", 365, "days ahead to generate, starting tomorrow")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete existing available slots first")
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, *sqlstore.Store, zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, closeDB, err := db.Open(dbCtx, cfg.DBDriver, cfg.PostgresDSN, cfg.SQLitePath)
	cancel()
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := db.NewMigrator(conn, cfg.DBDriver).Up(ctx); err != nil {
		return err
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
	return fn(ctx, store, logger)
}

func seedPeople(ctx context.Context, seeder storage.Seeder, opts seedOptions, logger zerolog.Logger) error {
	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	faker := gofakeit.New(seed)

	logger.Info().Int("count", opts.doctors).Msg("seeding doctors")
	for i := 0; i < opts.doctors; i++ {
		d := models.Doctor{
			Name:           "Dr. " + faker.Name(),
			Specialization: faker.RandomString(specialties),
		}
		if err := seeder.InsertDoctor(ctx, &d); err != nil {
			return fmt.Errorf("seed doctor: %w", err)
		}
	}

	logger.Info().Int("count", opts.patients).Msg("seeding patients")
	for i := 0; i < opts.patients; i++ {
		p := models.Patient{
			Name: faker.Name(),
			// whole currency units between 0 and 500
			Balance: models.Cents(int64(faker.Number(0, 500)) * 100),
		}
		if err := seeder.InsertPatient(ctx, &p); err != nil {
			return fmt.Errorf("seed patient: %w", err)
		}
		if (i+1)%500 == 0 {
			logger.Info().Int("seeded", i+1).Int("total", opts.patients).Msg("patients progress")
		}
	}

	logger.Info().Int("count", opts.resources).Msg("seeding equipment")
	for i := 0; i < opts.resources; i++ {
		name := equipment[i%len(equipment)]
		if i >= len(equipment) {
			name = fmt.Sprintf("%s #%d", name, i/len(equipment)+1)
		}
		r := models.Resource{Name: name, Availability: models.ResourceAvailable}
		if err := seeder.InsertResource(ctx, &r); err != nil {
			return fmt.Errorf("seed resource: %w", err)
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}
