// Package payment settles bills against patient balances.
//
// A settlement reads the bill and the owing patient's balance under row
// locks, checks both, and marks the bill paid and debits the balance in the
// same transaction. The bill and balance writes are also conditional
// (status = pending, balance >= amount), so a unit that somehow read stale
// values still cannot pay twice or overdraw.
package payment

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
	log := logger.With().Str("component", "payment").Logger()
	return &Service{
		store: store,
		guard: guard.New(store, locker, log),
		log:   log,
		now:   time.Now,
	}
}

// Receipt is the process and bill after settlement plus the payer's new
// balance.
type Receipt struct {
	models.ProcessWithBill
	PatientID int64
	Balance   models.Money
}

// PayBill settles the bill of processID. When payerID is non-zero the bill
// must belong to that patient; otherwise it is reported as not found.
func (s *Service) PayBill(ctx context.Context, processID, payerID int64) (*Receipt, error) {
	now := s.now().UTC()

	var receipt *Receipt
	err := s.guard.Do(ctx, redisclient.BillKey(processID), func(ctx context.Context, tx storage.Tx) error {
		pw, err := tx.LockProcessWithBill(ctx, processID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrProcessNotFound
			}
			return fmt.Errorf("lock process: %w", err)
		}
		if pw.Bill == nil {
			return apperr.ErrBillNotFound
		}

		st, err := tx.LockSettlement(ctx, processID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrBillNotFound
			}
			return fmt.Errorf("lock settlement: %w", err)
		}
		if payerID != 0 && st.PatientID != payerID {
			return apperr.ErrProcessNotFound
		}
		if st.BillStatus == models.BillPaid {
			return apperr.ErrAlreadyPaid
		}
		if st.Balance < st.Amount {
			return apperr.ErrInsufficientBalance.WithMessage("balance %s is lower than bill amount %s", st.Balance, st.Amount)
		}

		paid, err := tx.MarkBillPaid(ctx, st.BillID, now)
		if err != nil {
			return err
		}
		if !paid {
			return apperr.ErrAlreadyPaid
		}
		debited, err := tx.DebitBalance(ctx, st.PatientID, st.Amount, now)
		if err != nil {
			return err
		}
		if !debited {
			return apperr.ErrInsufficientBalance
		}

		ev, err := models.NewEvent(models.EventBillPaid, "bill", st.BillID, map[string]any{
			"process_id": processID,
			"patient_id": st.PatientID,
			"amount":     st.Amount,
			"balance":    st.Balance - st.Amount,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		settled, err := tx.GetProcessWithBill(ctx, processID)
		if err != nil {
			return fmt.Errorf("reload process: %w", err)
		}
		receipt = &Receipt{
			ProcessWithBill: *settled,
			PatientID:       st.PatientID,
			Balance:         st.Balance - st.Amount,
		}
		return nil
	})
	if err != nil {
		metrics.RecordPayment(outcome(err), 0)
		s.log.Warn().Err(err).Int64("process_id", processID).Msg("payment failed")
		return nil, err
	}

	metrics.RecordPayment("paid", int64(receipt.Bill.Amount))
	s.log.Info().
		Int64("process_id", processID).
		Int64("patient_id", receipt.PatientID).
		Str("amount", receipt.Bill.Amount.String()).
		Str("balance", receipt.Balance.String()).
		Msg("bill paid")
	return receipt, nil
}

// TopUp adds funds to a patient's balance and returns the new balance.
func (s *Service) TopUp(ctx context.Context, patientID int64, amount models.Money) (models.Money, error) {
	if amount <= 0 {
		return 0, apperr.ErrValidation.WithMessage("amount must be positive, got %s", amount)
	}

	overflow := apperr.ErrValidation.WithMessage("top-up of %s would overflow the balance", amount)
	now := s.now().UTC()
	var balance models.Money
	err := s.guard.Do(ctx, redisclient.PatientKey(patientID), func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.GetPatient(ctx, patientID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.ErrPatientNotFound
			}
			return fmt.Errorf("get patient: %w", err)
		}
		if p.Balance > models.MaxMoney-amount {
			return overflow
		}

		ok, err := tx.CreditBalance(ctx, patientID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return overflow
		}

		p, err = tx.GetPatient(ctx, patientID)
		if err != nil {
			return fmt.Errorf("reload patient: %w", err)
		}
		balance = p.Balance

		ev, err := models.NewEvent(models.EventBalanceCredited, "patient", patientID, map[string]any{
			"amount":  amount,
			"balance": balance,
		}, now)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().Int64("patient_id", patientID).Str("amount", amount.String()).Msg("balance topped up")
	return balance, nil
}

// Balance returns the patient's current balance.
func (s *Service) Balance(ctx context.Context, patientID int64) (models.Money, error) {
	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, apperr.ErrPatientNotFound
		}
		return 0, fmt.Errorf("get patient: %w", err)
	}
	return p.Balance, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, apperr.ErrBusy):
		return "busy"
	case apperr.KindOf(err) == apperr.KindNotFound:
		return "not_found"
	}
	return "error"
}
