package security

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionState tracks one participant's issued identity token between
// sweeps.
type SessionState struct {
	ParticipantGUID string
	TokenID         string
	LastActivity    time.Time
	ViolationCount  int
}

// RevalidatorConfig configures the background revalidation sweep.
type RevalidatorConfig struct {
	SweepInterval     time.Duration
	InactivityTimeout time.Duration // no SPDP refresh seen within this window
	ViolationLimit    int           // nonce/rate-limit violations before revocation
}

// Revalidator periodically re-checks every participant holding an
// issued identity token and revokes it on inactivity or accumulated
// nonce/rate-limit violations, independently of the token's own TTL.
type Revalidator struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState // tokenID → session
	broker   *TokenBroker
	config   RevalidatorConfig
	log      *slog.Logger
	stopCh   chan struct{}
	stopped  bool
}

// NewRevalidator builds a revalidator bound to broker.
func NewRevalidator(broker *TokenBroker, cfg RevalidatorConfig, log *slog.Logger) *Revalidator {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 10 * time.Minute
	}
	if cfg.ViolationLimit == 0 {
		cfg.ViolationLimit = 5
	}
	if log == nil {
		log = slog.Default()
	}

	return &Revalidator{
		sessions: make(map[string]*SessionState),
		broker:   broker,
		config:   cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep goroutine.
func (rv *Revalidator) Start() {
	go func() {
		ticker := time.NewTicker(rv.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rv.sweep()
			case <-rv.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweep; idempotent.
func (rv *Revalidator) Stop() {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	if !rv.stopped {
		close(rv.stopCh)
		rv.stopped = true
	}
}

// RegisterSession tracks a newly issued token for guid.
func (rv *Revalidator) RegisterSession(tokenID, guid string) {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	rv.sessions[tokenID] = &SessionState{
		ParticipantGUID: guid,
		TokenID:         tokenID,
		LastActivity:    time.Now(),
	}
}

// RecordActivity refreshes a session's last-activity timestamp, e.g.
// on every SPDP announcement refresh for its participant.
func (rv *Revalidator) RecordActivity(tokenID string) {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	if s, ok := rv.sessions[tokenID]; ok {
		s.LastActivity = time.Now()
	}
}

// RecordViolation records a nonce or rate-limit violation against
// tokenID's session.
func (rv *Revalidator) RecordViolation(tokenID string) {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	if s, ok := rv.sessions[tokenID]; ok {
		s.ViolationCount++
	}
}

func (rv *Revalidator) sweep() {
	rv.mu.Lock()
	sessions := make([]*SessionState, 0, len(rv.sessions))
	for _, s := range rv.sessions {
		sessions = append(sessions, s)
	}
	rv.mu.Unlock()

	now := time.Now()
	revoked := 0

	for _, session := range sessions {
		reason := ""
		if now.Sub(session.LastActivity) > rv.config.InactivityTimeout {
			reason = "inactivity timeout"
		} else if session.ViolationCount >= rv.config.ViolationLimit {
			reason = fmt.Sprintf("violation count %d exceeds limit %d", session.ViolationCount, rv.config.ViolationLimit)
		}

		if reason != "" {
			rv.log.Info("revoking identity token", "token_id", session.TokenID, "participant_guid", session.ParticipantGUID, "reason", reason)
			if rv.broker != nil {
				rv.broker.RevokeToken(session.TokenID)
			}
			rv.mu.Lock()
			delete(rv.sessions, session.TokenID)
			rv.mu.Unlock()
			revoked++
		}
	}

	if rv.broker != nil {
		swept := rv.broker.SweepExpired()
		if swept > 0 || revoked > 0 {
			rv.log.Debug("revalidation sweep complete", "revoked", revoked, "expired_swept", swept, "active_sessions", rv.SessionCount())
		}
	}
}

// SessionCount returns the number of tracked sessions.
func (rv *Revalidator) SessionCount() int {
	rv.mu.RLock()
	defer rv.mu.RUnlock()
	return len(rv.sessions)
}
