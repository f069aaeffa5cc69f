package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/medisync-core/internal/storage/models"
)

func (x queries) GetPatient(ctx context.Context, id int64) (*models.Patient, error) {
	var p models.Patient
	var created, updated sqlTime
	var balance int64

	err := x.queryRow(ctx, `
		SELECT id, name, balance_cents, created_at, updated_at
		FROM patients
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &balance, &created, &updated)
	if err != nil {
		return nil, notFound(err)
	}

	p.Balance = models.Money(balance)
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return &p, nil
}

// LockSettlement locks the bill of processID and the patient who owes it,
// in that order.
func (t *txn) LockSettlement(ctx context.Context, processID int64) (*models.Settlement, error) {
	var s models.Settlement
	var amount, balance int64

	err := t.queryRow(ctx, `
		SELECT b.process_id, b.id, b.amount_cents, b.status, pt.id, pt.balance_cents
		FROM bills b
		JOIN processes pr ON pr.id = b.process_id
		JOIN appointments a ON a.id = pr.appointment_id
		JOIN patients pt ON pt.id = a.patient_id
		WHERE b.process_id = ?
	`+t.d.forUpdate("b, pt"), processID).Scan(
		&s.ProcessID,
		&s.BillID,
		&amount,
		&s.BillStatus,
		&s.PatientID,
		&balance,
	)
	if err != nil {
		return nil, t.d.wrap(notFound(err))
	}

	s.Amount = models.Money(amount)
	s.Balance = models.Money(balance)
	return &s, nil
}

func (t *txn) MarkBillPaid(ctx context.Context, billID int64, at time.Time) (bool, error) {
	ok, err := t.affected(ctx, `
		UPDATE bills
		SET status = 'paid', paid_at = ?
		WHERE id = ? AND status = 'pending'
	`, dbTime(at), billID)
	if err != nil {
		return false, fmt.Errorf("mark bill paid: %w", err)
	}
	return ok, nil
}

func (t *txn) DebitBalance(ctx context.Context, patientID int64, amount models.Money, at time.Time) (bool, error) {
	ok, err := t.affected(ctx, `
		UPDATE patients
		SET balance_cents = balance_cents - ?, updated_at = ?
		WHERE id = ? AND balance_cents >= ?
	`, int64(amount), dbTime(at), patientID, int64(amount))
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	return ok, nil
}

func (t *txn) CreditBalance(ctx context.Context, patientID int64, amount models.Money, at time.Time) (bool, error) {
	ok, err := t.affected(ctx, `
		UPDATE patients
		SET balance_cents = balance_cents + ?, updated_at = ?
		WHERE id = ? AND balance_cents <= ?
	`, int64(amount), dbTime(at), patientID, int64(models.MaxMoney-amount))
	if err != nil {
		return false, fmt.Errorf("credit balance: %w", err)
	}
	return ok, nil
}
