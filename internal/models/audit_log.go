package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AuditEventType enumerates security-relevant events
type AuditEventType string

const (
	AuditEventLoginSuccess           AuditEventType = "LOGIN_SUCCESS"
	AuditEventLoginFailure           AuditEventType = "LOGIN_FAILURE"
	AuditEventLogout                 AuditEventType = "LOGOUT"
	AuditEventChallengeCreated       AuditEventType = "CHALLENGE_CREATED"
	AuditEventChallengeCompleted     AuditEventType = "CHALLENGE_COMPLETED"
	AuditEventChallengeFailedAttempt AuditEventType = "CHALLENGE_FAILED_ATTEMPT"
	AuditEventChallengeFailed        AuditEventType = "CHALLENGE_FAILED"
	AuditEventChallengeExpired       AuditEventType = "CHALLENGE_EXPIRED"
	AuditEventAdminApprovalGranted   AuditEventType = "ADMIN_APPROVAL_GRANTED"
	AuditEventAccountLocked          AuditEventType = "ACCOUNT_LOCKED"
	AuditEventSessionCreated         AuditEventType = "SESSION_CREATED"
	AuditEventSessionRevoked         AuditEventType = "SESSION_REVOKED"
	AuditEventPermissionChange       AuditEventType = "PERMISSION_CHANGE"
	AuditEventResourceAccess         AuditEventType = "RESOURCE_ACCESS"
	AuditEventSuspiciousActivity     AuditEventType = "SUSPICIOUS_ACTIVITY"
)

func (t AuditEventType) Valid() bool {
	switch t {
	case AuditEventLoginSuccess, AuditEventLoginFailure, AuditEventLogout,
		AuditEventChallengeCreated, AuditEventChallengeCompleted, AuditEventChallengeFailedAttempt,
		AuditEventChallengeFailed, AuditEventChallengeExpired, AuditEventAdminApprovalGranted,
		AuditEventAccountLocked, AuditEventSessionCreated, AuditEventSessionRevoked,
		AuditEventPermissionChange, AuditEventResourceAccess, AuditEventSuspiciousActivity:
		return true
	}
	return false
}

// AuditSeverity grades an event; CRITICAL events also notify administrators
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "INFO"
	AuditSeverityWarning  AuditSeverity = "WARNING"
	AuditSeverityError    AuditSeverity = "ERROR"
	AuditSeverityCritical AuditSeverity = "CRITICAL"
)

func (s AuditSeverity) Valid() bool {
	switch s {
	case AuditSeverityInfo, AuditSeverityWarning, AuditSeverityError, AuditSeverityCritical:
		return true
	}
	return false
}

// AuditStatus is the outcome of the audited operation
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
	AuditStatusPending AuditStatus = "PENDING"
	AuditStatusBlocked AuditStatus = "BLOCKED"
)

func (s AuditStatus) Valid() bool {
	switch s {
	case AuditStatusSuccess, AuditStatusFailure, AuditStatusPending, AuditStatusBlocked:
		return true
	}
	return false
}

// Resource types
const (
	AuditResourceTypeChallenge = "challenge"
	AuditResourceTypeSession   = "session"
	AuditResourceTypeAccount   = "account"
	AuditResourceTypeReport    = "security_report"
	AuditResourceTypeRisk      = "risk_profile"
)

// Actions
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
	AuditActionAccess = "access"
	AuditActionVerify = "verify"
	AuditActionLogin  = "login"
	AuditActionLock   = "lock"
	AuditActionRevoke = "revoke"
)

// AuditRecord is an immutable, append-only security log entry
type AuditRecord struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	EventType    AuditEventType `db:"event_type" json:"event_type"`
	Severity     AuditSeverity  `db:"severity" json:"severity"`
	Status       AuditStatus    `db:"status" json:"status"`
	Action       string         `db:"action" json:"action,omitempty"`
	IPAddress    string         `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string         `db:"user_agent" json:"user_agent,omitempty"`
	ResourceType *string        `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string        `db:"resource_id" json:"resource_id,omitempty"`
	Details      string         `db:"details" json:"details,omitempty"`
	Metadata     AuditMetadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// StringPtr is a small helper for optional audit columns
func StringPtr(s string) *string {
	return &s
}
