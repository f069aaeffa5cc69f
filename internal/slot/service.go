// Package slot is the registry of bookable (doctor, start, end) intervals.
package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

// DateLayout is the calendar date format used by callers (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// lookahead bounds the available-dates scan.
const lookahead = 2 * 366 * 24 * time.Hour

type Service struct {
	store storage.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store storage.Store, logger zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   logger.With().Str("component", "slot").Logger(),
		now:   time.Now,
	}
}

// ListAvailableDates returns the UTC dates, ascending, on which the doctor
// has at least one available slot starting after now.
func (s *Service) ListAvailableDates(ctx context.Context, doctorID int64) ([]time.Time, error) {
	now := s.now().UTC()
	slots, err := s.store.ListAvailableSlotsBetween(ctx, doctorID, now, now.Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("list available dates: %w", err)
	}

	dates := []time.Time{}
	for _, sl := range slots {
		if !sl.StartTime.After(now) {
			continue
		}
		day := Day(sl.StartTime)
		if n := len(dates); n == 0 || !dates[n-1].Equal(day) {
			dates = append(dates, day)
		}
	}
	return dates, nil
}

// ListAvailableSlots returns the doctor's available slots on date, ascending
// by start time.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID int64, date time.Time) ([]models.Slot, error) {
	day := Day(date)
	slots, err := s.store.ListAvailableSlotsBetween(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	if slots == nil {
		slots = []models.Slot{}
	}
	return slots, nil
}

// Claim flips the slot to booked inside the caller's unit. It fails with
// ErrSlotUnavailable when the slot is missing or already booked; the caller's
// unit must then roll back.
func Claim(ctx context.Context, tx storage.Tx, doctorID int64, start, end time.Time) error {
	// lock first so concurrent claimers queue on the row instead of racing the update
	sl, err := tx.LockSlot(ctx, doctorID, start, end)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrSlotUnavailable
		}
		return fmt.Errorf("lock slot: %w", err)
	}
	if sl.Availability != models.SlotAvailable {
		return apperr.ErrSlotUnavailable
	}

	ok, err := tx.ClaimSlot(ctx, doctorID, start, end)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrSlotUnavailable
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD date as a UTC day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, apperr.ErrValidation.WithMessage("invalid date %q, use YYYY-MM-DD", s)
	}
	return d, nil
}

// Day truncates t to the start of its UTC day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
