package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/medisync-core/internal/storage/models"
)

func (t *txn) InsertEvent(ctx context.Context, ev models.EventLog) error {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// payload goes in as text so both jsonb and TEXT columns accept it
	_, err := t.exec(ctx, `
		INSERT INTO event_logs (event_type, entity, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.EventType, ev.Entity, ev.EntityID, string(payload), dbTime(at))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEvents returns the audit rows for one entity, oldest first.
func (x queries) ListEvents(ctx context.Context, entity, entityID string) ([]models.EventLog, error) {
	rows, err := x.query(ctx, `
		SELECT id, event_type, entity, entity_id, payload, created_at
		FROM event_logs
		WHERE entity = ? AND entity_id = ?
		ORDER BY id
	`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []models.EventLog
	for rows.Next() {
		var ev models.EventLog
		var payload string
		var at sqlTime
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Entity, &ev.EntityID, &payload, &at); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt = at.Time
		result = append(result, ev)
	}
	return result, rows.Err()
}
