package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/medisync-core/internal/storage/models"
)

func (s *Store) InsertDoctor(ctx context.Context, d *models.Doctor) error {
	now := dbTime(time.Now())
	id, err := s.insertID(ctx, `
		INSERT INTO doctors (name, specialization, created_at)
		VALUES (?, ?, ?)
	`, d.Name, d.Specialization, now)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	d.ID = id
	d.CreatedAt = now
	return nil
}

func (s *Store) InsertPatient(ctx context.Context, p *models.Patient) error {
	now := dbTime(time.Now())
	id, err := s.insertID(ctx, `
		INSERT INTO patients (name, balance_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, p.Name, int64(p.Balance), now, now)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// InsertSlots adds slots in one transaction, leaving existing ones untouched.
func (s *Store) InsertSlots(ctx context.Context, slots []models.Slot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inTx := queries{q: tx, d: s.d}
	added := 0
	for _, slot := range slots {
		availability := slot.Availability
		if availability == "" {
			availability = models.SlotAvailable
		}
		ok, err := inTx.affected(ctx, `
			INSERT INTO slots (doctor_id, start_time, end_time, availability)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (doctor_id, start_time, end_time) DO NOTHING
		`, slot.DoctorID, dbTime(slot.StartTime), dbTime(slot.EndTime), string(availability))
		if err != nil {
			return added, fmt.Errorf("insert slot: %w", err)
		}
		if ok {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit slots: %w", err)
	}
	return added, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.query(ctx, `SELECT id, name, specialization, created_at FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []models.Doctor
	for rows.Next() {
		var d models.Doctor
		var created sqlTime
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = created.Time
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) ListPatients(ctx context.Context, limit int) ([]models.Patient, error) {
	rows, err := s.query(ctx, `
		SELECT id, name, balance_cents, created_at, updated_at
		FROM patients
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var result []models.Patient
	for rows.Next() {
		var p models.Patient
		var balance int64
		var created, updated sqlTime
		if err := rows.Scan(&p.ID, &p.Name, &balance, &created, &updated); err != nil {
			return nil, err
		}
		p.Balance = models.Money(balance)
		p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeleteSlots removes available slots, for one doctor or all. Booked slots
// stay because appointments reference them.
func (s *Store) DeleteSlots(ctx context.Context, doctorID *int64) (int64, error) {
	query := `DELETE FROM slots WHERE availability = 'available'`
	var args []any
	if doctorID != nil {
		query += ` AND doctor_id = ?`
		args = append(args, *doctorID)
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return res.RowsAffected()
}
