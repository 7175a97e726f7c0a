package models

import (
	"time"
)

// Credential statuses
const (
	CredentialStatusActive   = "active"
	CredentialStatusDisabled = "disabled"
)

// Credential is the primary-factor record owned by the external identity provider.
// The engine only reads it to decide whether the password step passed.
type Credential struct {
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
