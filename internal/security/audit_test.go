package security

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (f *fakeAuditStore) InsertAuditLog(entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) snapshot() []AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AuditEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func TestAuditorLogEventPersistsToStore(t *testing.T) {
	store := &fakeAuditStore{}
	a := NewAuditor(store, nil)

	a.LogEvent(AuditEntry{ParticipantGUID: "guid-1", EventType: "token_issued", Verdict: "ALLOW"})

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	entries := store.snapshot()
	assert.Equal(t, "guid-1", entries[0].ParticipantGUID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestAuditorLogEventWithNilStoreDoesNotPanic(t *testing.T) {
	a := NewAuditor(nil, nil)
	assert.NotPanics(t, func() {
		a.LogEvent(AuditEntry{ParticipantGUID: "guid-1", EventType: "token_issued"})
	})
}
