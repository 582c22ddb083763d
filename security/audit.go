package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event type constants for security audit logging.
const (
	EventAuthFailure         = "auth_failure"
	EventTokenIssued         = "token_issued"
	EventTokenRevoked        = "token_revoked"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventPKCEFailed          = "pkce_validation_failed"
	EventDeviceApproved      = "device_authorization_approved"
	EventDeviceCancelled     = "device_authorization_cancelled"
	EventSessionEnded        = "session_ended"
	EventFederationReplay    = "federation_state_replay"
	EventFederationCompleted = "federation_completed"
)

// Auditor handles security event logging with PII protection. User IDs are
// hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthFailure logs a failed client or user authentication.
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason},
	})
}

// LogTokenIssued logs a successful token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, grantType string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"grant_type": grantType},
	})
}

// LogTokenRevoked logs a token revocation.
func (a *Auditor) LogTokenRevoked(clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRevoked,
		ClientID: clientID,
		Details:  map[string]any{"token_type": tokenType},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a truncated SHA-256 hash of sensitive data so audit
// lines correlate without exposing the value.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
