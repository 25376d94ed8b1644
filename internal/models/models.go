// Package models defines the database entity types.
package models

import "time"

// CredentialStatus is the lifecycle state of a credential record.
type CredentialStatus string

// Credential statuses.
const (
	StatusActive    CredentialStatus = "active"
	StatusExhausted CredentialStatus = "exhausted"
	StatusInvalid   CredentialStatus = "invalid"
	StatusExpired   CredentialStatus = "expired"
)

// Credential represents a stored account credential.
type Credential struct {
	ID           string
	AccountID    string
	Token        string
	RefreshToken *string
	Status       CredentialStatus
	ExpiresAt    *int64
	UsagePercent *float64
	Fingerprint  string
	CreatedAt    int64
	UpdatedAt    int64
}

// Expired reports whether the credential's expiry has passed at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && *c.ExpiresAt <= now.Unix()
}

// Eligible reports whether the credential may be elected as active.
func (c *Credential) Eligible(now time.Time) bool {
	return c.Status == StatusActive && !c.Expired(now)
}

// RotationState is the active credential identifier plus every known credential.
type RotationState struct {
	ActiveID    string
	Credentials map[string]*Credential
}

// Active returns the record referenced by ActiveID, or nil.
func (s *RotationState) Active() *Credential {
	if s.ActiveID == "" {
		return nil
	}
	return s.Credentials[s.ActiveID]
}

// AuditEvent represents a recorded rotation-store event.
type AuditEvent struct {
	ID           int64
	OccurredAt   int64
	Kind         string
	CredentialID string
	Detail       string
}
