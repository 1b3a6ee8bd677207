package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Failure limiter
// ---------------------------------------------------------------------------

func TestFailureLimiter_LocksAfterThreshold(t *testing.T) {
	rl := newFailureLimiter(limits{
		maxFailures: 3,
		baseLockout: time.Minute,
		maxLockout:  10 * time.Minute,
		expiry:      time.Hour,
	})

	for i := 0; i < 2; i++ {
		rl.recordFailure("alice")
		blocked, _ := rl.check("alice")
		assert.False(t, blocked)
	}

	rl.recordFailure("alice")
	blocked, retryAfter := rl.check("alice")
	assert.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestFailureLimiter_BackoffGrowsAndCaps(t *testing.T) {
	rl := newFailureLimiter(limits{
		maxFailures: 1,
		baseLockout: time.Minute,
		maxLockout:  4 * time.Minute,
		expiry:      time.Hour,
	})

	rl.recordFailure("k")
	_, first := rl.check("k")
	rl.recordFailure("k")
	_, second := rl.check("k")
	assert.Greater(t, second, first)

	for i := 0; i < 10; i++ {
		rl.recordFailure("k")
	}
	_, capped := rl.check("k")
	assert.LessOrEqual(t, capped, 4*time.Minute)
}

func TestFailureLimiter_SuccessResets(t *testing.T) {
	rl := newFailureLimiter(accountLimits)
	for i := 0; i < accountLimits.maxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("alice")
	require.True(t, blocked)

	rl.recordSuccess("alice")
	blocked, _ = rl.check("alice")
	assert.False(t, blocked)
}

func TestFailureLimiter_KeysAreIndependent(t *testing.T) {
	rl := newFailureLimiter(accountLimits)
	for i := 0; i < accountLimits.maxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("bob")
	assert.False(t, blocked)
}

func TestFailureLimiter_Sweep(t *testing.T) {
	rl := newFailureLimiter(limits{
		maxFailures: 1,
		baseLockout: time.Minute,
		maxLockout:  time.Minute,
		expiry:      time.Millisecond,
	})
	rl.recordFailure("stale")
	time.Sleep(5 * time.Millisecond)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.attempts)
}

// ---------------------------------------------------------------------------
// Global limiter
// ---------------------------------------------------------------------------

func TestGlobalLimiter_TripsOnBurst(t *testing.T) {
	rl := newGlobalLimiter()
	for i := 0; i < globalMaxFailures; i++ {
		rl.recordFailure()
	}
	blocked, retryAfter := rl.check()
	assert.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestGlobalLimiter_BelowWindowAllows(t *testing.T) {
	rl := newGlobalLimiter()
	for i := 0; i < globalMaxFailures-1; i++ {
		rl.recordFailure()
	}
	blocked, _ := rl.check()
	assert.False(t, blocked)
}

// ---------------------------------------------------------------------------
// Client IP extraction
// ---------------------------------------------------------------------------

func TestClientIP_IgnoresHeadersFromUntrustedPeer(t *testing.T) {
	a := &API{}
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:4711"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	assert.Equal(t, "203.0.113.7", a.clientIP(r))
}

func TestClientIP_HonorsHeadersFromTrustedProxy(t *testing.T) {
	a := &API{cfg: Config{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")},
	}}
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:4711"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.10")

	assert.Equal(t, "203.0.113.7", a.clientIP(r))
}

func TestParseIPCandidate(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"203.0.113.7:80", "203.0.113.7", true},
		{"[2001:db8::1]:443", "2001:db8::1", true},
		{"2001:db8::1", "2001:db8::1", true},
		{"fe80::1%eth0", "fe80::1", true},
		{`"203.0.113.7"`, "203.0.113.7", true},
		{"not-an-ip", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := parseIPCandidate(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
