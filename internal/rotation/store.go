// Package rotation persists credential records and elects the active
// credential used by the proxy.
package rotation

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/rsclarke/swapgate/internal/models"
)

var (
	// ErrNotFound is returned when a credential identifier has no record.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicate is returned when a token is already stored under another record.
	ErrDuplicate = errors.New("credential already stored")
)

// Audit event kinds recorded by the store and its callers.
const (
	EventAdded     = "added"
	EventRemoved   = "removed"
	EventReset     = "reset"
	EventElected   = "elected"
	EventExhausted = "exhausted"
	EventRotated   = "rotated"
	EventDepleted  = "depleted"
)

// Store is the read/select/write contract the proxy consumes.
//
// Active and SelectNext return a nil credential, not an error, when no
// eligible record remains.
type Store interface {
	Active(ctx context.Context) (*models.Credential, error)
	MarkExhausted(ctx context.Context, id string) error
	SelectNext(ctx context.Context, exhaustedID string) (*models.Credential, error)
	RecordUsage(ctx context.Context, id string, percent float64) error
	AppendEvent(ctx context.Context, kind, credentialID, detail string) error
	State(ctx context.Context) (*models.RotationState, error)
}

const idLength = 16

var charset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// GenerateID returns a random credential identifier.
func GenerateID() (string, error) {
	b := make([]byte, idLength)
	randomBytes := make([]byte, idLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = charset[int(randomBytes[i])%len(charset)]
	}
	return string(b), nil
}
