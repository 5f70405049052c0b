package security

import (
	"log/slog"
	"time"
)

// AuditEntry is a single security-relevant event: identity token
// issuance, verification, revocation, or a nonce/rate-limit violation.
type AuditEntry struct {
	Timestamp       time.Time              `json:"timestamp"`
	ParticipantGUID string                 `json:"participant_guid"`
	TokenID         string                 `json:"token_id,omitempty"`
	EventType       string                 `json:"event_type"`
	Verdict         string                 `json:"verdict"`
	Detail          string                 `json:"detail,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// AuditStore persists audit entries; implementations may write to a
// file, a database, or forward to internal/diag for live streaming.
type AuditStore interface {
	InsertAuditLog(entry AuditEntry) error
}

// Auditor logs security events, calling out to an AuditStore
// non-blockingly and always emitting a structured log line.
type Auditor struct {
	store AuditStore
	log   *slog.Logger
}

// NewAuditor builds an auditor. store may be nil, in which case only
// structured logging occurs.
func NewAuditor(store AuditStore, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{store: store, log: log}
}

// LogEvent records one audit entry, persisting it asynchronously if a
// store is configured.
func (a *Auditor) LogEvent(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	a.log.Info("security audit event",
		"participant_guid", entry.ParticipantGUID,
		"token_id", entry.TokenID,
		"event_type", entry.EventType,
		"verdict", entry.Verdict,
	)

	if a.store == nil {
		return
	}
	go func() {
		if err := a.store.InsertAuditLog(entry); err != nil {
			a.log.Error("failed to persist audit entry",
				"participant_guid", entry.ParticipantGUID,
				"event_type", entry.EventType,
				"error", err,
			)
		}
	}()
}
