package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rsclarke/swapgate/internal/db"
	"github.com/rsclarke/swapgate/internal/models"
	"github.com/rsclarke/swapgate/internal/redact"
)

// SQLiteStore implements Store on top of the SQLite database. Every
// read-modify-write runs under a mutex inside a single transaction.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore with the given database connection.
func NewSQLiteStore(database *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: database, now: time.Now}
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Active returns the active credential, electing one when none is set or
// the current one is no longer eligible.
func (s *SQLiteStore) Active(ctx context.Context) (*models.Credential, error) {
	var active *models.Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		id, err := db.GetActiveID(tx)
		if err != nil {
			return fmt.Errorf("get active id: %w", err)
		}
		if id != "" {
			cred, err := db.GetCredential(tx, id)
			if err != nil {
				return fmt.Errorf("get credential: %w", err)
			}
			if cred != nil && cred.Eligible(now) {
				active = cred
				return nil
			}
		}
		active, err = s.elect(tx, now, "")
		if err != nil || active == nil {
			return err
		}
		_, err = db.CreateAuditEvent(tx, EventElected, active.ID, "")
		return err
	})
	return active, err
}

// elect picks the eligible credential with the lowest last-seen usage,
// skipping exclude, and records it as active.
func (s *SQLiteStore) elect(tx *sql.Tx, now time.Time, exclude string) (*models.Credential, error) {
	if _, err := db.ExpireCredentials(tx, now.Unix()); err != nil {
		return nil, fmt.Errorf("expire credentials: %w", err)
	}
	eligible, err := db.ListEligibleCredentials(tx, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	for _, cred := range eligible {
		if cred.ID == exclude {
			continue
		}
		if err := db.SetActiveID(tx, cred.ID); err != nil {
			return nil, fmt.Errorf("set active id: %w", err)
		}
		return cred, nil
	}
	if err := db.SetActiveID(tx, ""); err != nil {
		return nil, fmt.Errorf("clear active id: %w", err)
	}
	return nil, nil
}

// MarkExhausted flags a credential as throttled so selection skips it.
func (s *SQLiteStore) MarkExhausted(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.SetCredentialStatus(tx, id, models.StatusExhausted)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

// SelectNext elects a replacement for exhaustedID. If another request has
// already rotated away from exhaustedID, the current active credential is
// kept so concurrent throttles rotate once.
func (s *SQLiteStore) SelectNext(ctx context.Context, exhaustedID string) (*models.Credential, error) {
	var next *models.Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		id, err := db.GetActiveID(tx)
		if err != nil {
			return fmt.Errorf("get active id: %w", err)
		}
		if id != "" && id != exhaustedID {
			cred, err := db.GetCredential(tx, id)
			if err != nil {
				return fmt.Errorf("get credential: %w", err)
			}
			if cred != nil && cred.Eligible(now) {
				next = cred
				return nil
			}
		}
		next, err = s.elect(tx, now, exhaustedID)
		return err
	})
	return next, err
}

// RecordUsage stores the last-seen usage percentage for a credential.
func (s *SQLiteStore) RecordUsage(ctx context.Context, id string, percent float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return db.SetCredentialUsage(tx, id, percent)
	})
}

// AppendEvent appends an audit event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, kind, credentialID, detail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := db.CreateAuditEvent(tx, kind, credentialID, detail)
		return err
	})
}

// State returns the active identifier and every stored credential.
func (s *SQLiteStore) State(ctx context.Context) (*models.RotationState, error) {
	state := &models.RotationState{Credentials: make(map[string]*models.Credential)}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := db.GetActiveID(tx)
		if err != nil {
			return fmt.Errorf("get active id: %w", err)
		}
		creds, err := db.ListCredentials(tx)
		if err != nil {
			return fmt.Errorf("list credentials: %w", err)
		}
		state.ActiveID = id
		for _, c := range creds {
			state.Credentials[c.ID] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// AddCredential stores a new credential. An empty ID is generated. The
// token fingerprint is derived here; storing the same token twice fails
// with ErrDuplicate.
func (s *SQLiteStore) AddCredential(ctx context.Context, c *models.Credential) error {
	if c.ID == "" {
		id, err := GenerateID()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		c.ID = id
	}
	c.Fingerprint = redact.Fingerprint(c.Token)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := db.GetCredentialByFingerprint(tx, c.Fingerprint)
		if err != nil {
			return fmt.Errorf("lookup fingerprint: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w as %s", ErrDuplicate, redact.ShortID(existing.ID))
		}
		if err := db.CreateCredential(tx, c); err != nil {
			return fmt.Errorf("create credential: %w", err)
		}
		_, err = db.CreateAuditEvent(tx, EventAdded, c.ID, "")
		return err
	})
}

// ResetCredential returns a credential to the active pool.
func (s *SQLiteStore) ResetCredential(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.SetCredentialStatus(tx, id, models.StatusActive)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		_, err = db.CreateAuditEvent(tx, EventReset, id, "")
		return err
	})
}

// RemoveCredential deletes a credential. Removing the active credential
// clears the active identifier.
func (s *SQLiteStore) RemoveCredential(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.DeleteCredential(tx, id)
		if err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		_, err = db.CreateAuditEvent(tx, EventRemoved, id, "")
		return err
	})
}

// List returns every stored credential ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Credential, error) {
	var creds []*models.Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		creds, err = db.ListCredentials(tx)
		return err
	})
	return creds, err
}

// AuditEvents returns the most recent audit events, newest first.
func (s *SQLiteStore) AuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		events, err = db.ListAuditEvents(tx, limit)
		return err
	})
	return events, err
}
