package db

import (
	"database/sql"
	"time"

	"github.com/rsclarke/swapgate/internal/models"
)

const credentialColumns = "id, account_id, token, refresh_token, status, expires_at, usage_percent, fingerprint, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var c models.Credential
	var status string
	err := s.Scan(&c.ID, &c.AccountID, &c.Token, &c.RefreshToken, &status, &c.ExpiresAt, &c.UsagePercent, &c.Fingerprint, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CredentialStatus(status)
	return &c, nil
}

// CreateCredential inserts a new credential record.
func CreateCredential(q Querier, c *models.Credential) error {
	now := time.Now().Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	_, err := q.Exec(
		"INSERT INTO credentials ("+credentialColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.AccountID, c.Token, c.RefreshToken, string(c.Status), c.ExpiresAt, c.UsagePercent, c.Fingerprint, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCredential retrieves a credential by ID. It returns nil when no row matches.
func GetCredential(q Querier, id string) (*models.Credential, error) {
	row := q.QueryRow("SELECT "+credentialColumns+" FROM credentials WHERE id = ?", id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCredentialByFingerprint retrieves a credential by token fingerprint.
func GetCredentialByFingerprint(q Querier, fingerprint string) (*models.Credential, error) {
	row := q.QueryRow("SELECT "+credentialColumns+" FROM credentials WHERE fingerprint = ?", fingerprint)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCredentials returns every credential ordered by creation time.
func ListCredentials(q Querier) ([]*models.Credential, error) {
	rows, err := q.Query("SELECT " + credentialColumns + " FROM credentials ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ListEligibleCredentials returns active, unexpired credentials in election
// order: lowest last-seen usage first, then least recently updated.
func ListEligibleCredentials(q Querier, now int64) ([]*models.Credential, error) {
	rows, err := q.Query(`
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE status = 'active' AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY COALESCE(usage_percent, 0), updated_at, id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// SetCredentialStatus updates a credential's status. It reports whether a row changed.
func SetCredentialStatus(q Querier, id string, status models.CredentialStatus) (bool, error) {
	result, err := q.Exec(
		"UPDATE credentials SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().Unix(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ExpireCredentials marks every active credential whose expiry has passed as expired.
func ExpireCredentials(q Querier, now int64) (int64, error) {
	result, err := q.Exec(
		"UPDATE credentials SET status = 'expired', updated_at = ? WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?",
		now, now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetCredentialUsage records the last-seen usage percentage.
func SetCredentialUsage(q Querier, id string, percent float64) error {
	_, err := q.Exec("UPDATE credentials SET usage_percent = ? WHERE id = ?", percent, id)
	return err
}

// DeleteCredential removes a credential. It reports whether a row was deleted.
func DeleteCredential(q Querier, id string) (bool, error) {
	result, err := q.Exec("DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// GetActiveID returns the active credential identifier, or "" when none is set.
func GetActiveID(q Querier) (string, error) {
	var id sql.NullString
	err := q.QueryRow("SELECT active_id FROM rotation_state WHERE singleton = 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// SetActiveID records id as the active credential. An empty id clears it.
func SetActiveID(q Querier, id string) error {
	var value any
	if id != "" {
		value = id
	}
	_, err := q.Exec(
		"UPDATE rotation_state SET active_id = ?, updated_at = ? WHERE singleton = 1",
		value, time.Now().Unix(),
	)
	return err
}
