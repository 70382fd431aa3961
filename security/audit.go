package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Subject
// object IDs are hashed before they reach a log line so audit trails can be
// correlated without storing user identifiers in plaintext.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	SubjectID string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.SubjectID),
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenRejected logs an inbound token that failed validation.
func (a *Auditor) LogTokenRejected(ipAddress, requestID string) {
	a.LogEvent(Event{
		Type:      "token_rejected",
		IPAddress: ipAddress,
		RequestID: requestID,
	})
}

// LogDelegationIssued logs a successful On-Behalf-Of exchange.
func (a *Auditor) LogDelegationIssued(subjectID, ipAddress, requestID, scope string) {
	a.LogEvent(Event{
		Type:      "delegation_issued",
		SubjectID: subjectID,
		IPAddress: ipAddress,
		RequestID: requestID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogDelegationRejected logs an On-Behalf-Of exchange the provider refused.
func (a *Auditor) LogDelegationRejected(ipAddress, requestID, code string) {
	a.LogEvent(Event{
		Type:      "delegation_rejected",
		IPAddress: ipAddress,
		RequestID: requestID,
		Details: map[string]any{
			"code": code,
		},
	})
}

// LogContainerQuery logs a container query executed on a user's behalf.
func (a *Auditor) LogContainerQuery(subjectID, ipAddress, requestID, container, outcome string) {
	a.LogEvent(Event{
		Type:      "container_query",
		SubjectID: subjectID,
		IPAddress: ipAddress,
		RequestID: requestID,
		Details: map[string]any{
			"container": container,
			"outcome":   outcome,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, requestID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
		RequestID: requestID,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
