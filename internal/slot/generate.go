package slot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

// Schedule is one doctor's working pattern.
type Schedule struct {
	StartHour int
	EndHour   int
	DaysOff   []time.Weekday
	Length    time.Duration
}

// ScheduleFor derives a doctor's schedule from the id and specialization:
// hours rotate on id%3, days off on id%5, and psychiatry and neurology get
// 45 minute slots.
func ScheduleFor(d models.Doctor) Schedule {
	sc := Schedule{StartHour: 9, EndHour: 17, Length: 30 * time.Minute}

	switch d.ID % 3 {
	case 0:
		sc.StartHour = 8
	case 1:
		sc.StartHour, sc.EndHour = 10, 18
	}

	switch d.ID % 5 {
	case 0:
		sc.DaysOff = []time.Weekday{time.Monday, time.Thursday}
	case 1:
		sc.DaysOff = []time.Weekday{time.Tuesday, time.Friday}
	case 2:
		sc.DaysOff = []time.Weekday{time.Monday, time.Sunday}
	default:
		sc.DaysOff = []time.Weekday{time.Saturday, time.Sunday}
	}

	if strings.Contains(d.Specialization, "Psychiatry") || strings.Contains(d.Specialization, "Neurology") {
		sc.Length = 45 * time.Minute
	}
	return sc
}

func (sc Schedule) worksOn(day time.Weekday) bool {
	for _, off := range sc.DaysOff {
		if off == day {
			return false
		}
	}
	return true
}

// Generate lays out slots for each doctor over days consecutive days
// starting the day after from. Slots starting in the 12:00 hour are skipped.
func Generate(doctors []models.Doctor, from time.Time, days int) []models.Slot {
	first := Day(from).AddDate(0, 0, 1)

	var slots []models.Slot
	for _, d := range doctors {
		sc := ScheduleFor(d)
		for offset := 0; offset < days; offset++ {
			day := first.AddDate(0, 0, offset)
			if !sc.worksOn(day.Weekday()) {
				continue
			}

			cur := day.Add(time.Duration(sc.StartHour) * time.Hour)
			end := day.Add(time.Duration(sc.EndHour) * time.Hour)
			for !cur.Add(sc.Length).After(end) {
				if cur.Hour() != 12 {
					slots = append(slots, models.Slot{
						DoctorID:     d.ID,
						StartTime:    cur,
						EndTime:      cur.Add(sc.Length),
						Availability: models.SlotAvailable,
					})
				}
				cur = cur.Add(sc.Length)
			}
		}
	}
	return slots
}

type GenerateOptions struct {
	// DoctorID limits generation to one doctor; nil means all.
	DoctorID *int64
	Days     int
	// Clear removes existing available slots first.
	Clear bool
}

type GenerateResult struct {
	Doctors int
	Cleared int64
	Created int
}

// GenerateAndStore runs the slot generation job against the store. Existing
// slots are kept, so running it twice adds nothing the second time.
func (s *Service) GenerateAndStore(ctx context.Context, seeder storage.Seeder, opts GenerateOptions) (GenerateResult, error) {
	var res GenerateResult
	if opts.Days <= 0 {
		opts.Days = 365
	}

	if opts.Clear {
		n, err := seeder.DeleteSlots(ctx, opts.DoctorID)
		if err != nil {
			return res, fmt.Errorf("clear slots: %w", err)
		}
		res.Cleared = n
	}

	doctors, err := seeder.ListDoctors(ctx)
	if err != nil {
		return res, fmt.Errorf("list doctors: %w", err)
	}
	if opts.DoctorID != nil {
		var picked []models.Doctor
		for _, d := range doctors {
			if d.ID == *opts.DoctorID {
				picked = append(picked, d)
			}
		}
		if len(picked) == 0 {
			return res, fmt.Errorf("doctor %d not found", *opts.DoctorID)
		}
		doctors = picked
	}
	res.Doctors = len(doctors)

	created, err := seeder.InsertSlots(ctx, Generate(doctors, s.now(), opts.Days))
	if err != nil {
		return res, fmt.Errorf("insert slots: %w", err)
	}
	res.Created = created

	s.log.Info().
		Int("doctors", res.Doctors).
		Int("created", res.Created).
		Int64("cleared", res.Cleared).
		Msg("slots generated")
	return res, nil
}
