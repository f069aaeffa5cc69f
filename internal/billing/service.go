// Package billing is the ledger of billable processes and their bills.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/guard"
	"github.com/hackgods/medisync-core/internal/metrics"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
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
	log := logger.With().Str("component", "billing").Logger()
	return &Service{
		store: store,
		guard: guard.New(store, locker, log),
		log:   log,
		now:   time.Now,
	}
}

type CreateProcessRequest struct {
	AppointmentID int64
	Name          string
	Description   string
	Amount        models.Money
}

// CreateProcess records a scheduled process and its pending bill together.
func (s *Service) CreateProcess(ctx context.Context, req CreateProcessRequest) (*models.ProcessWithBill, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apperr.ErrValidation.WithMessage("process name is required")
	}
	if req.Amount <= 0 {
		return nil, apperr.ErrValidation.WithMessage("bill amount must be positive, got %s", req.Amount)
	}

	now := s.now().UTC()
	var result *models.ProcessWithBill
	err := s.guard.Do(ctx, redisclient.AppointmentKey(req.AppointmentID), func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetAppointment(ctx, req.AppointmentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrAppointmentNotFound
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		proc := models.Process{
			AppointmentID: req.AppointmentID,
			Name:          req.Name,
			Description:   req.Description,
			Status:        models.ProcessScheduled,
			CreatedAt:     now,
		}
		if err := tx.InsertProcess(ctx, &proc); err != nil {
			return err
		}

		bill := models.Bill{
			ProcessID: proc.ID,
			Amount:    req.Amount,
			Status:    models.BillPending,
			BilledAt:  now,
		}
		if err := tx.InsertBill(ctx, &bill); err != nil {
			return err
		}

		ev, err := models.NewEvent(models.EventProcessCreated, "process", proc.ID, map[string]any{
			"appointment_id": proc.AppointmentID,
			"name":           proc.Name,
			"amount":         bill.Amount,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		result = &models.ProcessWithBill{Process: proc, Bill: &bill}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ProcessesCreated.Inc()
	s.log.Info().
		Int64("process_id", result.ID).
		Int64("appointment_id", result.AppointmentID).
		Str("amount", result.Bill.Amount.String()).
		Msg("process created")
	return result, nil
}

// UpdateProcessStatus sets the process status. Any status may follow any
// other until the bill is paid, after which the process is frozen.
func (s *Service) UpdateProcessStatus(ctx context.Context, processID int64, status string, actorID int64) (*models.ProcessWithBill, error) {
	next, err := models.ParseProcessStatus(status)
	if err != nil {
		return nil, apperr.ErrInvalidStatus.WithMessage("unknown process status %q", status)
	}

	now := s.now().UTC()
	var result *models.ProcessWithBill
	// same key as payment so a status change cannot interleave with settlement
	err = s.guard.Do(ctx, redisclient.BillKey(processID), func(ctx context.Context, tx storage.Tx) error {
		pw, err := tx.LockProcessWithBill(ctx, processID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrProcessNotFound
			}
			return fmt.Errorf("lock process: %w", err)
		}
		if pw.Status == next {
			result = pw
			return nil
		}
		if pw.Bill != nil && pw.Bill.Status == models.BillPaid {
			return apperr.ErrProcessLocked
		}

		if err := tx.UpdateProcessStatus(ctx, processID, next, now); err != nil {
			return err
		}

		ev, err := models.NewEvent(models.EventProcessStatus, "process", processID, map[string]any{
			"from":     pw.Status,
			"to":       next,
			"actor_id": actorID,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		pw.Status = next
		pw.UpdatedAt = now.Truncate(time.Second)
		result = pw
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("process_id", processID).Str("status", string(result.Status)).Msg("process status updated")
	return result, nil
}

func (s *Service) Get(ctx context.Context, processID int64) (*models.ProcessWithBill, error) {
	pw, err := s.store.GetProcessWithBill(ctx, processID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrProcessNotFound
		}
		return nil, fmt.Errorf("get process: %w", err)
	}
	return pw, nil
}

// ListProcessesForAppointment returns each process with its bill, or a nil
// bill where none was recorded. An unknown appointment yields an empty list.
func (s *Service) ListProcessesForAppointment(ctx context.Context, appointmentID int64) ([]models.ProcessWithBill, error) {
	list, err := s.store.ListProcessesForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return list, nil
}
