// Package storetest opens a migrated in-memory sqlite store and seeds
// fixtures for service tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/db"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
)

// New returns a fresh store; it is closed when the test ends.
func New(t testing.TB) *sqlstore.Store {
	t.Helper()
	return NewWithOptions(t, sqlstore.Options{
		TxTimeout:   5 * time.Second,
		MaxAttempts: 3,
	})
}

// NewWithOptions is New with caller-chosen unit bounds.
func NewWithOptions(t testing.TB, opts sqlstore.Options) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.NewMigrator(conn, "sqlite").Up(ctx); err != nil {
		conn.Close()
		t.Fatalf("migrate: %v", err)
	}

	opts.Logger = zerolog.Nop()
	store := sqlstore.New(conn, sqlstore.SQLite, opts)
	t.Cleanup(func() { store.Close() })
	return store
}

func Doctor(t testing.TB, s *sqlstore.Store, name, specialization string) models.Doctor {
	t.Helper()
	d := models.Doctor{Name: name, Specialization: specialization}
	if err := s.InsertDoctor(context.Background(), &d); err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	return d
}

func Patient(t testing.TB, s *sqlstore.Store, name string, balance models.Money) models.Patient {
	t.Helper()
	p := models.Patient{Name: name, Balance: balance}
	if err := s.InsertPatient(context.Background(), &p); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	return p
}

func Resource(t testing.TB, s *sqlstore.Store, name string, availability models.ResourceAvailability) models.Resource {
	t.Helper()
	r := models.Resource{Name: name, Availability: availability}
	if err := s.InsertResource(context.Background(), &r); err != nil {
		t.Fatalf("insert resource: %v", err)
	}
	return r
}

// Slot inserts one available slot starting at start.
func Slot(t testing.TB, s *sqlstore.Store, doctorID int64, start time.Time, length time.Duration) models.Slot {
	t.Helper()
	slot := models.Slot{
		DoctorID:     doctorID,
		StartTime:    start.UTC().Truncate(time.Second),
		EndTime:      start.Add(length).UTC().Truncate(time.Second),
		Availability: models.SlotAvailable,
	}
	if _, err := s.InsertSlots(context.Background(), []models.Slot{slot}); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
	return slot
}

// Tomorrow returns tomorrow at hour:00 UTC.
func Tomorrow(hour int) time.Time {
	d := time.Now().UTC().AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}
