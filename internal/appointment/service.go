package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/guard"
	"github.com/hackgods/medisync-core/internal/metrics"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/slot"
	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

type Service struct {
	store storage.Store
	guard *guard.Guard
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store storage.Store, locker redisclient.Locker, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "appointment").Logger()
	return &Service{
		store: store,
		guard: guard.New(store, locker, log),
		log:   log,
		now:   time.Now,
	}
}

type BookRequest struct {
	PatientID int64
	DoctorID  int64
	StartTime time.Time
	EndTime   time.Time
}

func (r BookRequest) validate(now time.Time) error {
	switch {
	case r.PatientID <= 0 || r.DoctorID <= 0:
		return apperr.ErrValidation.WithMessage("patient and doctor ids are required")
	case r.StartTime.IsZero() || r.EndTime.IsZero():
		return apperr.ErrValidation.WithMessage("start and end time are required")
	case !r.StartTime.Equal(r.StartTime.Truncate(time.Second)) || !r.EndTime.Equal(r.EndTime.Truncate(time.Second)):
		return apperr.ErrValidation.WithMessage("start and end time must be whole seconds")
	case !r.StartTime.Before(r.EndTime):
		return apperr.ErrValidation.WithMessage("start time must be before end time")
	case !r.StartTime.After(now):
		return apperr.ErrValidation.WithMessage("cannot book a slot that has already started")
	}
	return nil
}

// Book claims the slot and creates a scheduled appointment in one unit. If
// the appointment cannot be written the claim is rolled back with it.
func (s *Service) Book(ctx context.Context, req BookRequest) (*models.Appointment, error) {
	now := s.now().UTC()
	if err := req.validate(now); err != nil {
		metrics.RecordBooking("invalid")
		return nil, err
	}
	start, end := req.StartTime.UTC(), req.EndTime.UTC()

	var created *models.Appointment
	err := s.guard.Do(ctx, redisclient.SlotKey(req.DoctorID, start, end), func(ctx context.Context, tx storage.Tx) error {
		if err := slot.Claim(ctx, tx, req.DoctorID, start, end); err != nil {
			return err
		}

		appt := &models.Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			StartTime: start,
			EndTime:   end,
			Status:    models.AppointmentScheduled,
			CreatedAt: now,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			if errors.Is(err, storage.ErrUniqueViolation) {
				return apperr.ErrSlotUnavailable
			}
			if errors.Is(err, storage.ErrBusy) {
				return err
			}
			return apperr.ErrAppointmentCreationFailed.WithError(err)
		}

		ev, err := models.NewEvent(models.EventAppointmentBooked, "appointment", appt.ID, map[string]any{
			"patient_id": appt.PatientID,
			"doctor_id":  appt.DoctorID,
			"start_time": appt.StartTime,
			"end_time":   appt.EndTime,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		metrics.RecordBooking(outcome(err))
		s.log.Warn().Err(err).
			Int64("patient_id", req.PatientID).
			Int64("doctor_id", req.DoctorID).
			Time("start_time", start).
			Msg("booking failed")
		return nil, err
	}

	metrics.RecordBooking("booked")
	s.log.Info().
		Int64("appointment_id", created.ID).
		Int64("patient_id", created.PatientID).
		Int64("doctor_id", created.DoctorID).
		Time("start_time", created.StartTime).
		Msg("appointment booked")
	return created, nil
}

// UpdateStatus moves an appointment along Scheduled -> Completed|Cancelled.
// Re-issuing the current status returns the appointment unchanged.
func (s *Service) UpdateStatus(ctx context.Context, appointmentID int64, status string, actorID int64) (*models.Appointment, error) {
	next, err := models.ParseAppointmentStatus(status)
	if err != nil {
		return nil, apperr.ErrInvalidStatus.WithMessage("unknown appointment status %q", status)
	}

	now := s.now().UTC()
	var result *models.Appointment
	err = s.guard.Do(ctx, redisclient.AppointmentKey(appointmentID), func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrAppointmentNotFound
			}
			return fmt.Errorf("lock appointment: %w", err)
		}

		if appt.Status == next {
			result = appt
			return nil
		}
		if !appt.Status.CanTransitionTo(next) {
			return apperr.ErrInvalidTransition.WithMessage("cannot move appointment from %s to %s", appt.Status.Display(), next.Display())
		}

		if err := tx.UpdateAppointmentStatus(ctx, appointmentID, next, now); err != nil {
			return err
		}

		ev, err := models.NewEvent(models.EventAppointmentStatus, "appointment", appointmentID, map[string]any{
			"from":     appt.Status,
			"to":       next,
			"actor_id": actorID,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		appt.Status = next
		appt.UpdatedAt = now.Truncate(time.Second)
		result = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(result.Status))
	s.log.Info().
		Int64("appointment_id", appointmentID).
		Str("status", string(result.Status)).
		Int64("actor_id", actorID).
		Msg("appointment status updated")
	return result, nil
}

// AddReview sets rating and review on a completed appointment owned by
// patientID. A second review replaces the first.
func (s *Service) AddReview(ctx context.Context, appointmentID, patientID int64, rating int, review *string) (*models.Appointment, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.ErrValidation.WithMessage("rating must be between 1 and 5, got %d", rating)
	}

	now := s.now().UTC()
	var result *models.Appointment
	err := s.guard.Do(ctx, redisclient.AppointmentKey(appointmentID), func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.SetReview(ctx, appointmentID, patientID, rating, review, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFoundOrNotEligible
		}

		ev, err := models.NewEvent(models.EventAppointmentReviewed, "appointment", appointmentID, map[string]any{
			"patient_id": patientID,
			"rating":     rating,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		result, err = tx.GetAppointment(ctx, appointmentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("appointment_id", appointmentID).Int("rating", rating).Msg("review recorded")
	return result, nil
}

func (s *Service) Get(ctx context.Context, appointmentID int64) (*models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListForPatient returns the patient's appointments, newest first. status
// may be empty.
func (s *Service) ListForPatient(ctx context.Context, patientID int64, status string) ([]models.Appointment, error) {
	st, err := optionalStatus(status)
	if err != nil {
		return nil, err
	}

	appts, err := s.store.ListAppointmentsByPatient(ctx, patientID, st)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return nonNil(appts), nil
}

// ListForDoctor returns the doctor's appointments. upcoming nil lists all;
// true lists future ones soonest first, false past ones latest first.
func (s *Service) ListForDoctor(ctx context.Context, doctorID int64, status string, upcoming *bool) ([]models.Appointment, error) {
	st, err := optionalStatus(status)
	if err != nil {
		return nil, err
	}

	appts, err := s.store.ListAppointmentsByDoctor(ctx, doctorID, storage.DoctorAppointmentFilter{
		Status:   st,
		Upcoming: upcoming,
		Now:      s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return nonNil(appts), nil
}

func optionalStatus(status string) (*models.AppointmentStatus, error) {
	if status == "" {
		return nil, nil
	}
	st, err := models.ParseAppointmentStatus(status)
	if err != nil {
		return nil, apperr.ErrInvalidStatus.WithMessage("unknown appointment status %q", status)
	}
	return &st, nil
}

func nonNil(appts []models.Appointment) []models.Appointment {
	if appts == nil {
		return []models.Appointment{}
	}
	return appts
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, apperr.ErrBusy):
		return "busy"
	case errors.Is(err, apperr.ErrAppointmentCreationFailed):
		return "creation_failed"
	}
	return "error"
}
