// SPDX-License-Identifier: LGPL-3.0-or-later

package pake

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStoreAndTakePendingEnrollmentIsSingleUse(t *testing.T) {
	rt := NewRuntime()
	id := rt.StorePendingEnrollment([]byte("shared-key"), "server-message")

	enrollment, err := rt.TakePendingEnrollment(id)
	require.NoError(t, err)
	require.Equal(t, []byte("shared-key"), enrollment.SharedKey)

	_, err = rt.TakePendingEnrollment(id)
	require.ErrorIs(t, err, ErrEnrollmentExpired)
}

func TestTakePendingEnrollmentRejectsUnknownID(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.TakePendingEnrollment(uuid.New())
	require.ErrorIs(t, err, ErrEnrollmentExpired)
}

func TestGetOrSetEnrollmentCodeIsSingleSlot(t *testing.T) {
	rt := NewRuntime()

	code, installed := rt.GetOrSetEnrollmentCode("ABC123")
	require.True(t, installed)
	require.Equal(t, "ABC123", code)

	code, installed = rt.GetOrSetEnrollmentCode("ZZZ999")
	require.False(t, installed)
	require.Equal(t, "ABC123", code, "existing code must not be replaced")

	err := rt.ConsumeEnrollmentCodeIfMatch("ABC123")
	require.NoError(t, err)

	err = rt.ConsumeEnrollmentCodeIfMatch("ABC123")
	require.ErrorIs(t, err, ErrEnrollmentCodeNotSet)

	code, installed = rt.GetOrSetEnrollmentCode("FRESH1")
	require.True(t, installed)
	require.Equal(t, "FRESH1", code)
}

func TestConsumeEnrollmentCodeIfMatchRejectsMismatchWithoutClearingSlot(t *testing.T) {
	rt := NewRuntime()
	rt.GetOrSetEnrollmentCode("ABC123")

	err := rt.ConsumeEnrollmentCodeIfMatch("WRONG1")
	require.ErrorIs(t, err, ErrEnrollmentCodeMismatch)

	// The real code must still be active after a mismatched attempt.
	err = rt.ConsumeEnrollmentCodeIfMatch("ABC123")
	require.NoError(t, err)
}

func TestEnforceRateLimitAllowsUpToMaxThenRejects(t *testing.T) {
	rt := NewRuntime()

	for i := 0; i < 3; i++ {
		require.NoError(t, rt.EnforceRateLimit("client-a", 3, time.Minute))
	}
	require.ErrorIs(t, rt.EnforceRateLimit("client-a", 3, time.Minute), ErrTooManyRequests)

	// A distinct bucket has its own independent window.
	require.NoError(t, rt.EnforceRateLimit("client-b", 3, time.Minute))
}

func TestEnforceRateLimitForgetsExpiredRequests(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.EnforceRateLimit("client-a", 1, 10*time.Millisecond))
	require.ErrorIs(t, rt.EnforceRateLimit("client-a", 1, 10*time.Millisecond), ErrTooManyRequests)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rt.EnforceRateLimit("client-a", 1, 10*time.Millisecond))
}

func TestClaimRefreshNonceRejectsBlankValues(t *testing.T) {
	rt := NewRuntime()
	require.ErrorIs(t, rt.ClaimRefreshNonce(""), ErrBlankRefreshNonce)

	oversize := make([]byte, maxRefreshNonceLength+1)
	for i := range oversize {
		oversize[i] = 'a'
	}
	require.ErrorIs(t, rt.ClaimRefreshNonce(string(oversize)), ErrRefreshNonceTooLong)
}

func TestClaimRefreshNonceRejectsReplay(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.ClaimRefreshNonce("nonce-1"))
	require.ErrorIs(t, rt.ClaimRefreshNonce("nonce-1"), ErrReplayedRefreshNonce)
	require.NoError(t, rt.ClaimRefreshNonce("nonce-2"))
}

func TestBuildRefreshMessageIsStable(t *testing.T) {
	clientID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	message := BuildRefreshMessage(1700000000, "nonce-123", clientID)
	require.Equal(t, "v1|refresh|1700000000|nonce-123|11111111-1111-1111-1111-111111111111", string(message))
}

func TestVerifyRefreshSignatureAcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clientID := uuid.New()
	message := BuildRefreshMessage(1700000000, "nonce", clientID)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))

	require.NoError(t, VerifyRefreshSignature(pub, message, sig))
}

func TestVerifyRefreshSignatureRejectsWrongKey(t *testing.T) {
	_, trustedPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, attackerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clientID := uuid.New()
	message := BuildRefreshMessage(1700000000, "nonce", clientID)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(attackerPriv, message))

	trustedPub := trustedPriv.Public().(ed25519.PublicKey)
	require.Error(t, VerifyRefreshSignature(trustedPub, message, sig))
}

func TestValidateRefreshTimestampRejectsStaleValues(t *testing.T) {
	stale := time.Now().Unix() - RefreshMaxTimestampDriftSecs - 1
	require.Error(t, ValidateRefreshTimestamp(stale))
}
