package mfa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) string {
	t.Helper()
	secret, err := GenerateSecret()
	require.NoError(t, err)
	return secret
}

// ---------------------------------------------------------------------------
// HOTP drift window
// ---------------------------------------------------------------------------

func TestVerifyHOTP_ExactCounter(t *testing.T) {
	secret := testSecret(t)
	code, err := GenerateHOTPCode(secret, 3)
	require.NoError(t, err)

	ok, next := VerifyHOTP(secret, code, 3, DefaultLookAhead)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), next)
}

func TestVerifyHOTP_WithinWindow(t *testing.T) {
	secret := testSecret(t)

	for _, k := range []uint64{0, 1, 5, DefaultLookAhead} {
		code, err := GenerateHOTPCode(secret, 3+k)
		require.NoError(t, err)

		ok, next := VerifyHOTP(secret, code, 3, DefaultLookAhead)
		assert.True(t, ok, "code at counter+%d should verify", k)
		assert.Equal(t, 3+k+1, next, "counter should land just past the match")
	}
}

func TestVerifyHOTP_BeyondWindowNeverVerifies(t *testing.T) {
	secret := testSecret(t)
	code, err := GenerateHOTPCode(secret, 3+DefaultLookAhead+1)
	require.NoError(t, err)

	ok, next := VerifyHOTP(secret, code, 3, DefaultLookAhead)
	assert.False(t, ok)
	assert.Equal(t, uint64(4), next, "a total miss still advances the counter by one")
}

func TestVerifyHOTP_ReplayFailsAfterCounterAdvance(t *testing.T) {
	secret := testSecret(t)
	code, err := GenerateHOTPCode(secret, 5)
	require.NoError(t, err)

	ok, next := VerifyHOTP(secret, code, 3, DefaultLookAhead)
	require.True(t, ok)
	require.Equal(t, uint64(6), next)

	// The same code submitted again, against the advanced counter, fails.
	ok, next = VerifyHOTP(secret, code, next, DefaultLookAhead)
	assert.False(t, ok)
	assert.Equal(t, uint64(7), next)
}

func TestVerifyHOTP_IgnoresSpacesInCode(t *testing.T) {
	secret := testSecret(t)
	code, err := GenerateHOTPCode(secret, 0)
	require.NoError(t, err)

	spaced := " " + code[:3] + " " + code[3:] + " "
	ok, _ := VerifyHOTP(secret, spaced, 0, DefaultLookAhead)
	assert.True(t, ok)
}

// ---------------------------------------------------------------------------
// TOTP time window
// ---------------------------------------------------------------------------

func TestVerifyTOTP_ValidAtEmissionTime(t *testing.T) {
	secret := testSecret(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	code, err := GenerateTOTPCode(secret, at)
	require.NoError(t, err)

	assert.True(t, VerifyTOTP(secret, code, at))
}

func TestVerifyTOTP_ExpiresAfterTimeStep(t *testing.T) {
	secret := testSecret(t)
	// Align to the start of a step so +30s is guaranteed to cross it.
	at := time.Unix(1700000000-1700000000%Period, 0)
	code, err := GenerateTOTPCode(secret, at)
	require.NoError(t, err)

	assert.True(t, VerifyTOTP(secret, code, at))
	assert.True(t, VerifyTOTP(secret, code, at.Add(29*time.Second)))
	assert.False(t, VerifyTOTP(secret, code, at.Add(Period*time.Second)))
}

func TestVerifyTOTP_RejectsGarbage(t *testing.T) {
	secret := testSecret(t)
	assert.False(t, VerifyTOTP(secret, "", time.Now()))
	assert.False(t, VerifyTOTP(secret, "abc123", time.Now()))
	assert.False(t, VerifyTOTP("not base32!!", "123456", time.Now()))
}

// ---------------------------------------------------------------------------
// Email/SMS codes
// ---------------------------------------------------------------------------

func TestGenerateCode_LengthAndAlphabet(t *testing.T) {
	for _, n := range []int{DefaultCodeDigits, DefaultResetCodeDigits, 4} {
		code, err := GenerateCode(n)
		require.NoError(t, err)
		require.Len(t, code, n)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}

func TestVerifyCode_ExactMatch(t *testing.T) {
	assert.True(t, VerifyCode("123456", "123456"))
	assert.True(t, VerifyCode("123456", " 123456 "))
	assert.False(t, VerifyCode("123456", "123457"))
	assert.False(t, VerifyCode("", ""))
	assert.False(t, VerifyCode("", "123456"))
}

// ---------------------------------------------------------------------------
// Resend throttling
// ---------------------------------------------------------------------------

func TestCanResend_FirstEmissionAlwaysAllowed(t *testing.T) {
	ok, wait := CanResend(nil, time.Now(), DefaultResendDelay)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestCanResend_WithinDelayRejected(t *testing.T) {
	now := time.Now()
	last := now.Add(-20 * time.Second)

	ok, wait := CanResend(&last, now, DefaultResendDelay)
	assert.False(t, ok)
	assert.InDelta(t, (40 * time.Second).Seconds(), wait.Seconds(), 1)
}

func TestCanResend_AfterDelayAllowed(t *testing.T) {
	now := time.Now()
	last := now.Add(-61 * time.Second)

	ok, _ := CanResend(&last, now, DefaultResendDelay)
	assert.True(t, ok)
}

func TestCanResend_RejectionDoesNotResetWindow(t *testing.T) {
	now := time.Now()
	last := now.Add(-50 * time.Second)

	// Two rejected attempts; the emission timestamp is untouched, so the
	// window keeps shrinking rather than restarting.
	ok, wait1 := CanResend(&last, now, DefaultResendDelay)
	require.False(t, ok)
	ok, wait2 := CanResend(&last, now.Add(5*time.Second), DefaultResendDelay)
	require.False(t, ok)
	assert.Less(t, wait2, wait1)

	ok, _ = CanResend(&last, now.Add(11*time.Second), DefaultResendDelay)
	assert.True(t, ok)
}
