package sqlstore

import (
	"context"
	"fmt"

	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

func scanResource(row scanner) (*models.Resource, error) {
	var r models.Resource
	if err := row.Scan(&r.ID, &r.Name, &r.Availability); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (x queries) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	row := x.queryRow(ctx, `SELECT id, name, availability FROM resources WHERE id = ?`, id)
	return scanResource(row)
}

func (x queries) ListResources(ctx context.Context, onlyAvailable bool) ([]models.Resource, error) {
	query := `SELECT id, name, availability FROM resources`
	if onlyAvailable {
		query += ` WHERE availability = 'available'`
	}
	query += ` ORDER BY id`

	rows, err := x.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	result := []models.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

const requestSelect = `
	SELECT rr.doctor_id, rr.resource_id, r.name, rr.status, rr.requested_at
	FROM resource_requests rr
	JOIN resources r ON r.id = rr.resource_id`

func scanRequest(row scanner) (*models.ResourceRequest, error) {
	var req models.ResourceRequest
	var at sqlTime
	if err := row.Scan(&req.DoctorID, &req.ResourceID, &req.ResourceName, &req.Status, &at); err != nil {
		return nil, notFound(err)
	}
	req.RequestedAt = at.Time
	return &req, nil
}

func (x queries) GetResourceRequest(ctx context.Context, doctorID, resourceID int64) (*models.ResourceRequest, error) {
	row := x.queryRow(ctx, requestSelect+` WHERE rr.doctor_id = ? AND rr.resource_id = ?`, doctorID, resourceID)
	return scanRequest(row)
}

// ListResourceRequests returns requests newest first, optionally for one doctor.
func (x queries) ListResourceRequests(ctx context.Context, doctorID *int64) ([]models.ResourceRequest, error) {
	query := requestSelect
	var args []any
	if doctorID != nil {
		query += ` WHERE rr.doctor_id = ?`
		args = append(args, *doctorID)
	}
	query += ` ORDER BY rr.requested_at DESC, rr.resource_id`

	rows, err := x.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resource requests: %w", err)
	}
	defer rows.Close()

	result := []models.ResourceRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func (t *txn) LockResource(ctx context.Context, id int64) (*models.Resource, error) {
	row := t.queryRow(ctx, `SELECT id, name, availability FROM resources WHERE id = ?`+t.d.forUpdate(""), id)
	r, err := scanResource(row)
	if err != nil {
		return nil, t.d.wrap(err)
	}
	return r, nil
}

func (x queries) InsertResource(ctx context.Context, r *models.Resource) error {
	if r.Availability == "" {
		r.Availability = models.ResourceAvailable
	}
	id, err := x.insertID(ctx, `INSERT INTO resources (name, availability) VALUES (?, ?)`, r.Name, string(r.Availability))
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	r.ID = id
	return nil
}

func (t *txn) SetResourceAvailability(ctx context.Context, id int64, availability models.ResourceAvailability) error {
	ok, err := t.affected(ctx, `UPDATE resources SET availability = ? WHERE id = ?`, string(availability), id)
	if err != nil {
		return fmt.Errorf("set resource availability: %w", err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertResourceRequest writes the request for (doctor, resource), replacing
// status and timestamp of an existing one.
func (t *txn) UpsertResourceRequest(ctx context.Context, r *models.ResourceRequest) error {
	_, err := t.exec(ctx, `
		INSERT INTO resource_requests (doctor_id, resource_id, status, requested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (doctor_id, resource_id)
		DO UPDATE SET status = excluded.status, requested_at = excluded.requested_at
	`, r.DoctorID, r.ResourceID, string(r.Status), dbTime(r.RequestedAt))
	if err != nil {
		return fmt.Errorf("upsert resource request: %w", err)
	}
	r.RequestedAt = dbTime(r.RequestedAt)
	return nil
}
