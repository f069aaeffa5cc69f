// Package resource runs the equipment request workflow: doctors request
// equipment, staff decide, and an approval puts the equipment in use.
package resource

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
	log := logger.With().Str("component", "resource").Logger()
	return &Service{
		store: store,
		guard: guard.New(store, locker, log),
		log:   log,
		now:   time.Now,
	}
}

// CreateResource adds equipment; it starts Available.
func (s *Service) CreateResource(ctx context.Context, name string) (*models.Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.ErrValidation.WithMessage("resource name is required")
	}

	now := s.now().UTC()
	r := &models.Resource{Name: name, Availability: models.ResourceAvailable}
	err := s.guard.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		r.ID = 0
		if err := tx.InsertResource(ctx, r); err != nil {
			return err
		}
		ev, err := models.NewEvent(models.EventResourceCreated, "resource", r.ID, map[string]any{
			"name": r.Name,
		}, now)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("resource_id", r.ID).Str("name", r.Name).Msg("resource created")
	return r, nil
}

// RequestResource records a pending request by doctorID for resourceID. A
// request for the same pair is overwritten and goes back to pending.
func (s *Service) RequestResource(ctx context.Context, doctorID, resourceID int64) (*models.ResourceRequest, error) {
	if doctorID <= 0 {
		return nil, apperr.ErrValidation.WithMessage("doctor id is required")
	}
	return s.writeRequest(ctx, doctorID, resourceID, models.RequestPending)
}

// DecideRequest approves or rejects the request of doctorID for resourceID.
// Approval also puts the equipment In Use within the same unit.
func (s *Service) DecideRequest(ctx context.Context, doctorID, resourceID int64, decision string) (*models.ResourceRequest, error) {
	status, err := models.ParseDecision(decision)
	if err != nil {
		return nil, apperr.ErrInvalidDecision.WithError(err)
	}

	req, err := s.writeRequest(ctx, doctorID, resourceID, status)
	if err != nil {
		return nil, err
	}
	metrics.RecordDecision(string(status))
	return req, nil
}

func (s *Service) writeRequest(ctx context.Context, doctorID, resourceID int64, status models.RequestStatus) (*models.ResourceRequest, error) {
	now := s.now().UTC()

	var result *models.ResourceRequest
	err := s.guard.Do(ctx, redisclient.ResourceKey(resourceID), func(ctx context.Context, tx storage.Tx) error {
		res, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrResourceNotFound
			}
			return fmt.Errorf("lock resource: %w", err)
		}

		req := models.ResourceRequest{
			DoctorID:    doctorID,
			ResourceID:  resourceID,
			Status:      status,
			RequestedAt: now,
		}
		if err := tx.UpsertResourceRequest(ctx, &req); err != nil {
			return err
		}

		eventType := models.EventResourceDecided
		if status == models.RequestPending {
			eventType = models.EventResourceRequested
		}
		ev, err := models.NewEvent(eventType, "resource", resourceID, map[string]any{
			"doctor_id": doctorID,
			"status":    status,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		if status == models.RequestApproved && res.Availability != models.ResourceInUse {
			if err := s.setAvailability(ctx, tx, res, models.ResourceInUse, now); err != nil {
				return err
			}
		}

		result, err = tx.GetResourceRequest(ctx, doctorID, resourceID)
		if err != nil {
			return fmt.Errorf("reload request: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).
			Int64("doctor_id", doctorID).
			Int64("resource_id", resourceID).
			Str("status", string(status)).
			Msg("resource request failed")
		return nil, err
	}

	s.log.Info().
		Int64("doctor_id", doctorID).
		Int64("resource_id", resourceID).
		Str("status", string(status)).
		Msg("resource request written")
	return result, nil
}

// SetAvailability overrides the equipment state directly.
func (s *Service) SetAvailability(ctx context.Context, resourceID int64, availability string) (*models.Resource, error) {
	state, err := models.ParseResourceAvailability(availability)
	if err != nil {
		return nil, apperr.ErrValidation.WithError(err)
	}

	now := s.now().UTC()
	var result *models.Resource
	err = s.guard.Do(ctx, redisclient.ResourceKey(resourceID), func(ctx context.Context, tx storage.Tx) error {
		res, err := tx.LockResource(ctx, resourceID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrResourceNotFound
			}
			return fmt.Errorf("lock resource: %w", err)
		}
		if res.Availability != state {
			if err := s.setAvailability(ctx, tx, res, state, now); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// setAvailability writes the new state onto res and logs the change.
func (s *Service) setAvailability(ctx context.Context, tx storage.Tx, res *models.Resource, state models.ResourceAvailability, at time.Time) error {
	if err := tx.SetResourceAvailability(ctx, res.ID, state); err != nil {
		return err
	}
	ev, err := models.NewEvent(models.EventResourceAvailability, "resource", res.ID, map[string]any{
		"from": res.Availability,
		"to":   state,
	}, at)
	if err != nil {
		return err
	}
	res.Availability = state
	return tx.InsertEvent(ctx, ev)
}

func (s *Service) Get(ctx context.Context, resourceID int64) (*models.Resource, error) {
	r, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrResourceNotFound
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

func (s *Service) ListResources(ctx context.Context, onlyAvailable bool) ([]models.Resource, error) {
	return s.store.ListResources(ctx, onlyAvailable)
}

// ListRequests returns requests newest first; doctorID nil lists everyone's.
func (s *Service) ListRequests(ctx context.Context, doctorID *int64) ([]models.ResourceRequest, error) {
	return s.store.ListResourceRequests(ctx, doctorID)
}

func (s *Service) GetRequest(ctx context.Context, doctorID, resourceID int64) (*models.ResourceRequest, error) {
	req, err := s.store.GetResourceRequest(ctx, doctorID, resourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrRequestNotFound
		}
		return nil, fmt.Errorf("get resource request: %w", err)
	}
	return req, nil
}
