package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/medisync-core/internal/storage/models"
)

const slotColumns = `doctor_id, start_time, end_time, availability`

func scanSlot(row scanner) (*models.Slot, error) {
	var s models.Slot
	var start, end sqlTime
	if err := row.Scan(&s.DoctorID, &start, &end, &s.Availability); err != nil {
		return nil, notFound(err)
	}
	s.StartTime, s.EndTime = start.Time, end.Time
	return &s, nil
}

func (x queries) GetSlot(ctx context.Context, doctorID int64, start, end time.Time) (*models.Slot, error) {
	row := x.queryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = ? AND start_time = ? AND end_time = ?
	`, doctorID, dbTime(start), dbTime(end))
	return scanSlot(row)
}

// ListAvailableSlotsBetween returns available slots starting in [from, to),
// ordered by start time.
func (x queries) ListAvailableSlotsBetween(ctx context.Context, doctorID int64, from, to time.Time) ([]models.Slot, error) {
	rows, err := x.query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = ?
		  AND availability = 'available'
		  AND start_time >= ?
		  AND start_time < ?
		ORDER BY start_time
	`, doctorID, dbTime(from), dbTime(to))
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()

	var result []models.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (t *txn) LockSlot(ctx context.Context, doctorID int64, start, end time.Time) (*models.Slot, error) {
	row := t.queryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = ? AND start_time = ? AND end_time = ?
	`+t.d.forUpdate(""), doctorID, dbTime(start), dbTime(end))
	s, err := scanSlot(row)
	if err != nil {
		return nil, t.d.wrap(err)
	}
	return s, nil
}

func (t *txn) ClaimSlot(ctx context.Context, doctorID int64, start, end time.Time) (bool, error) {
	ok, err := t.affected(ctx, `
		UPDATE slots
		SET availability = 'booked'
		WHERE doctor_id = ? AND start_time = ? AND end_time = ?
		  AND availability = 'available'
	`, doctorID, dbTime(start), dbTime(end))
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return ok, nil
}
