package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

const appointmentColumns = `id, patient_id, doctor_id, start_time, end_time, status, rating, review, created_at, updated_at`

func scanAppointment(row scanner) (*models.Appointment, error) {
	var a models.Appointment
	var start, end, created, updated sqlTime
	var rating sql.NullInt64
	var review sql.NullString

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&start,
		&end,
		&a.Status,
		&rating,
		&review,
		&created,
		&updated,
	)
	if err != nil {
		return nil, notFound(err)
	}

	a.StartTime, a.EndTime = start.Time, end.Time
	a.CreatedAt, a.UpdatedAt = created.Time, updated.Time
	if rating.Valid {
		r := int(rating.Int64)
		a.Rating = &r
	}
	if review.Valid {
		a.Review = &review.String
	}
	return &a, nil
}

func collectAppointments(rows *sql.Rows) ([]models.Appointment, error) {
	defer rows.Close()

	var result []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (x queries) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	row := x.queryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	return scanAppointment(row)
}

// ListAppointmentsByPatient returns the patient's appointments, most recent
// start first.
func (x queries) ListAppointmentsByPatient(ctx context.Context, patientID int64, status *models.AppointmentStatus) ([]models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE patient_id = ?`
	args := []any{patientID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY start_time DESC, id DESC`

	rows, err := x.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (x queries) ListAppointmentsByDoctor(ctx context.Context, doctorID int64, filter storage.DoctorAppointmentFilter) ([]models.Appointment, error) {
	var where strings.Builder
	where.WriteString(`doctor_id = ?`)
	args := []any{doctorID}

	if filter.Status != nil {
		where.WriteString(` AND status = ?`)
		args = append(args, string(*filter.Status))
	}

	order := `start_time ASC, id ASC`
	if filter.Upcoming != nil {
		if *filter.Upcoming {
			where.WriteString(` AND start_time > ?`)
		} else {
			where.WriteString(` AND start_time <= ?`)
			order = `start_time DESC, id DESC`
		}
		args = append(args, dbTime(filter.Now))
	}

	rows, err := x.query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE `+where.String()+` ORDER BY `+order, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (t *txn) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	now := dbTime(a.CreatedAt)
	if a.CreatedAt.IsZero() {
		now = dbTime(time.Now())
	}
	if a.Status == "" {
		a.Status = models.AppointmentScheduled
	}

	id, err := t.insertID(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, start_time, end_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.PatientID, a.DoctorID, dbTime(a.StartTime), dbTime(a.EndTime), string(a.Status), now, now)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	a.ID = id
	a.StartTime, a.EndTime = dbTime(a.StartTime), dbTime(a.EndTime)
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

func (t *txn) LockAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	row := t.queryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`+t.d.forUpdate(""), id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, t.d.wrap(err)
	}
	return a, nil
}

func (t *txn) UpdateAppointmentStatus(ctx context.Context, id int64, status models.AppointmentStatus, at time.Time) error {
	ok, err := t.affected(ctx, `
		UPDATE appointments
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dbTime(at), id)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (t *txn) SetReview(ctx context.Context, id, patientID int64, rating int, review *string, at time.Time) (bool, error) {
	var text any
	if review != nil {
		text = *review
	}

	ok, err := t.affected(ctx, `
		UPDATE appointments
		SET rating = ?, review = ?, updated_at = ?
		WHERE id = ? AND patient_id = ? AND status = 'completed'
	`, rating, text, dbTime(at), id, patientID)
	if err != nil {
		return false, fmt.Errorf("set review: %w", err)
	}
	return ok, nil
}
