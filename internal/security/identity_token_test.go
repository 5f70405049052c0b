package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBrokerIssueAndVerifyRoundtrip(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})

	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.NotEmpty(t, tok.TokenID)

	claims, err := tb.VerifyToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "guid-0001", claims.ParticipantGUID)
	assert.Equal(t, uint32(7), claims.DomainID)
}

func TestTokenBrokerVerifyRejectsTamperedSignature(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	tampered := tok.Token[:len(tok.Token)-1] + "x"
	_, err = tb.VerifyToken(tampered)
	assert.Error(t, err)
}

func TestTokenBrokerVerifyRejectsExpiredToken(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret", DefaultTTL: time.Nanosecond})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = tb.VerifyToken(tok.Token)
	assert.Error(t, err)
}

func TestTokenBrokerRevokeTokenRejectsFutureVerify(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	tb.RevokeToken(tok.TokenID)
	_, err = tb.VerifyToken(tok.Token)
	assert.ErrorContains(t, err, "revoked")
}

func TestTokenBrokerRotateKeyHonorsGraceWindow(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "old-secret"})
	tok, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	tb.RotateKey("new-secret")

	claims, err := tb.VerifyToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "guid-0001", claims.ParticipantGUID)
}

func TestTokenBrokerSweepExpiredRemovesStaleActiveTokens(t *testing.T) {
	tb := NewTokenBroker(TokenBrokerConfig{HMACSecret: "test-secret", DefaultTTL: time.Nanosecond})
	_, err := tb.IssueToken("guid-0001", 7)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	swept := tb.SweepExpired()
	assert.Equal(t, 1, swept)
}
