package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

const processWithBillSelect = `
	SELECT p.id, p.appointment_id, p.name, p.description, p.status, p.created_at, p.updated_at,
	       b.id, b.amount_cents, b.status, b.billed_at, b.paid_at
	FROM processes p
	LEFT JOIN bills b ON b.process_id = p.id`

func scanProcessWithBill(row scanner) (*models.ProcessWithBill, error) {
	var pw models.ProcessWithBill
	var created, updated, billedAt, paidAt sqlTime
	var billID, amount sql.NullInt64
	var billStatus sql.NullString

	err := row.Scan(
		&pw.ID,
		&pw.AppointmentID,
		&pw.Name,
		&pw.Description,
		&pw.Status,
		&created,
		&updated,
		&billID,
		&amount,
		&billStatus,
		&billedAt,
		&paidAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	pw.CreatedAt, pw.UpdatedAt = created.Time, updated.Time
	if billID.Valid {
		pw.Bill = &models.Bill{
			ID:        billID.Int64,
			ProcessID: pw.ID,
			Amount:    models.Money(amount.Int64),
			Status:    models.BillStatus(billStatus.String),
			BilledAt:  billedAt.Time,
			PaidAt:    paidAt.ptr(),
		}
	}
	return &pw, nil
}

func (x queries) GetProcessWithBill(ctx context.Context, processID int64) (*models.ProcessWithBill, error) {
	row := x.queryRow(ctx, processWithBillSelect+` WHERE p.id = ?`, processID)
	return scanProcessWithBill(row)
}

// ListProcessesForAppointment returns processes newest first; Bill is
// nil for a process that has none.
func (x queries) ListProcessesForAppointment(ctx context.Context, appointmentID int64) ([]models.ProcessWithBill, error) {
	rows, err := x.query(ctx, processWithBillSelect+` WHERE p.appointment_id = ? ORDER BY p.id DESC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	result := []models.ProcessWithBill{}
	for rows.Next() {
		pw, err := scanProcessWithBill(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *pw)
	}
	return result, rows.Err()
}

func (t *txn) InsertProcess(ctx context.Context, p *models.Process) error {
	now := dbTime(p.CreatedAt)
	if p.CreatedAt.IsZero() {
		now = dbTime(time.Now())
	}
	if p.Status == "" {
		p.Status = models.ProcessScheduled
	}

	id, err := t.insertID(ctx, `
		INSERT INTO processes (appointment_id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.AppointmentID, p.Name, p.Description, string(p.Status), now, now)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}

	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (t *txn) InsertBill(ctx context.Context, b *models.Bill) error {
	billedAt := dbTime(b.BilledAt)
	if b.BilledAt.IsZero() {
		billedAt = dbTime(time.Now())
	}
	if b.Status == "" {
		b.Status = models.BillPending
	}

	id, err := t.insertID(ctx, `
		INSERT INTO bills (process_id, amount_cents, status, billed_at)
		VALUES (?, ?, ?, ?)
	`, b.ProcessID, int64(b.Amount), string(b.Status), billedAt)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}

	b.ID = id
	b.BilledAt = billedAt
	return nil
}

// LockProcessWithBill locks the process row. The bill is read but not
// locked here; payments lock it through LockSettlement.
func (t *txn) LockProcessWithBill(ctx context.Context, processID int64) (*models.ProcessWithBill, error) {
	row := t.queryRow(ctx, processWithBillSelect+` WHERE p.id = ?`+t.d.forUpdate("p"), processID)
	pw, err := scanProcessWithBill(row)
	if err != nil {
		return nil, t.d.wrap(err)
	}
	return pw, nil
}

func (t *txn) UpdateProcessStatus(ctx context.Context, id int64, status models.ProcessStatus, at time.Time) error {
	ok, err := t.affected(ctx, `
		UPDATE processes
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dbTime(at), id)
	if err != nil {
		return fmt.Errorf("update process status: %w", err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}
