package db

import (
	"time"

	"github.com/rsclarke/swapgate/internal/models"
)

// CreateAuditEvent appends an audit event and returns its ID.
func CreateAuditEvent(q Querier, kind, credentialID, detail string) (int64, error) {
	result, err := q.Exec(
		"INSERT INTO audit_events (occurred_at, kind, credential_id, detail) VALUES (?, ?, ?, ?)",
		time.Now().Unix(), kind, credentialID, detail,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListAuditEvents returns the most recent events, newest first.
func ListAuditEvents(q Querier, limit int) ([]models.AuditEvent, error) {
	rows, err := q.Query(
		"SELECT id, occurred_at, kind, credential_id, detail FROM audit_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.CredentialID, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
