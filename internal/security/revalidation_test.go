package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevalidatorRevokesOnInactivityTimeout(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	rv := NewRevalidator(tb, RevalidatorConfig{
		SweepInterval:     time.Millisecond,
		InactivityTimeout: time.Millisecond,
	}, nil)
	rv.RegisterSession(tok.TokenID, "guid-0001")

	time.Sleep(5 * time.Millisecond)
	rv.Start()
	defer rv.Stop()

	require.Eventually(t, func() bool {
		_, err := tb.VerifyToken(tok.Token)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRevalidatorRevokesOnViolationLimit(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	rv := NewRevalidator(tb, RevalidatorConfig{
		SweepInterval:     time.Millisecond,
		InactivityTimeout: time.Hour,
		ViolationLimit:    2,
	}, nil)
	rv.RegisterSession(tok.TokenID, "guid-0001")
	rv.RecordViolation(tok.TokenID)
	rv.RecordViolation(tok.TokenID)

	rv.Start()
	defer rv.Stop()

	require.Eventually(t, func() bool {
		_, err := tb.VerifyToken(tok.Token)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRevalidatorRecordActivityPreventsInactivityRevocation(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	rv := NewRevalidator(tb, RevalidatorConfig{
		SweepInterval:     5 * time.Millisecond,
		InactivityTimeout: time.Hour,
	}, nil)
	rv.RegisterSession(tok.TokenID, "guid-0001")
	rv.RecordActivity(tok.TokenID)

	rv.Start()
	defer rv.Stop()
	time.Sleep(20 * time.Millisecond)

	_, err = tb.VerifyToken(tok.Token)
	assert.NoError(t, err)
}

func TestRevalidatorSessionCountReflectsRegistrations(t *testing.T) {
	rv := NewRevalidator(nil, RevalidatorConfig{}, nil)
	assert.Equal(t, 0, rv.SessionCount())

	rv.RegisterSession("tok-1", "guid-a")
	rv.RegisterSession("tok-2", "guid-b")
	assert.Equal(t, 2, rv.SessionCount())
}
