package captcha

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), DefaultLength)
}

// ---------------------------------------------------------------------------
// Challenge issuance
// ---------------------------------------------------------------------------

func TestNew_IssuesTokenAndImage(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.New()
	require.NoError(t, err)

	assert.NotEmpty(t, ch.Token)
	assert.True(t, strings.HasPrefix(ch.ImageDataURI, "data:image/png;base64,"))
	assert.Len(t, ch.Answer(), DefaultLength)
}

func TestNew_TokensAreUnique(t *testing.T) {
	svc := newTestService(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		ch, err := svc.New()
		require.NoError(t, err)
		assert.False(t, seen[ch.Token])
		seen[ch.Token] = true
	}
}

func TestAudio_RendersWithoutConsuming(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.New()
	require.NoError(t, err)

	wav, ok := svc.Audio(ch.Token)
	require.True(t, ok)
	assert.NotEmpty(t, wav)

	// Audio playback must not burn the token.
	assert.True(t, svc.Verify(ch.Token, ch.Answer()))
}

func TestAudio_UnknownToken(t *testing.T) {
	svc := newTestService(t)
	_, ok := svc.Audio("nope")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

func TestVerify_AcceptsTrimmedCaseInsensitive(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.New()
	require.NoError(t, err)

	assert.True(t, svc.Verify(ch.Token, "  "+ch.Answer()+" "))
}

func TestVerify_TokenIsSingleUse(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.New()
	require.NoError(t, err)

	require.True(t, svc.Verify(ch.Token, ch.Answer()))
	assert.False(t, svc.Verify(ch.Token, ch.Answer()), "second use of the same token must fail")
}

func TestVerify_WrongAnswerStillConsumesToken(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.New()
	require.NoError(t, err)

	require.False(t, svc.Verify(ch.Token, "wrong"))
	assert.False(t, svc.Verify(ch.Token, ch.Answer()), "a failed attempt burns the token too")
}

func TestVerify_EmptyInputs(t *testing.T) {
	svc := newTestService(t)
	assert.False(t, svc.Verify("", ""))
	assert.False(t, svc.Verify("token", ""))
	assert.False(t, svc.Verify("", "123456"))
}

// ---------------------------------------------------------------------------
// Gating policy
// ---------------------------------------------------------------------------

func TestRequired_StickyThreshold(t *testing.T) {
	assert.False(t, Required(0, 3))
	assert.False(t, Required(2, 3))
	assert.True(t, Required(3, 3))
	assert.True(t, Required(10, 3))
}

func TestRequired_ZeroThresholdAlwaysOn(t *testing.T) {
	assert.True(t, Required(0, 0))
	assert.True(t, Required(5, 0))
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set("tok", "123456"))

	now = now.Add(challengeTTL + time.Second)
	_, ok := store.Get("tok", false)
	assert.False(t, ok)
}

func TestBoltStore_SetGetClear(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "captcha.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	store, err := NewBoltStore(db)
	require.NoError(t, err)

	require.NoError(t, store.Set("tok", "654321"))

	answer, ok := store.Get("tok", false)
	require.True(t, ok)
	assert.Equal(t, "654321", answer)

	answer, ok = store.Get("tok", true)
	require.True(t, ok)
	assert.Equal(t, "654321", answer)

	_, ok = store.Get("tok", true)
	assert.False(t, ok)
}
