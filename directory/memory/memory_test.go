package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/directory"
)

func TestAddAndLookup(t *testing.T) {
	store := NewStore()

	u := &directory.User{
		UserName: "Alice",
		Emails:   []string{"alice@example.com"},
	}
	require.NoError(t, store.AddUser(u, "correct horse"))
	assert.NotEmpty(t, u.ID, "AddUser should mint an id")

	ctx := t.Context()

	// Lookups are canonical: case and composition do not matter.
	byName, err := store.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	assert.True(t, byName.HasPassword)

	byEmail, err := store.GetUserByLogin(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = store.GetUserByLogin(ctx, "nobody")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestCheckPassword(t *testing.T) {
	store := NewStore()
	u := &directory.User{UserName: "bob"}
	require.NoError(t, store.AddUser(u, "hunter2"))

	ctx := t.Context()

	ok, reason, err := store.CheckPassword(ctx, u, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, _, err = store.CheckPassword(ctx, u, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPasswordLocked(t *testing.T) {
	store := NewStore()
	past := time.Now().Add(-time.Hour)
	u := &directory.User{UserName: "carol", LockDate: &past}
	require.NoError(t, store.AddUser(u, "secret"))

	ok, reason, err := store.CheckPassword(t.Context(), u, "secret")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Your account has been locked.", reason)
}

func TestPasswordlessUser(t *testing.T) {
	store := NewStore()
	u := &directory.User{UserName: "dave"}
	require.NoError(t, store.AddUser(u, ""))

	got, err := store.GetUser(t.Context(), u.ID)
	require.NoError(t, err)
	assert.False(t, got.HasPassword)

	ok, _, err := store.CheckPassword(t.Context(), got, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetPassword(t *testing.T) {
	store := NewStore()
	u := &directory.User{UserName: "erin"}
	require.NoError(t, store.AddUser(u, ""))

	ctx := t.Context()
	require.NoError(t, store.SetPassword(ctx, u, "fresh start"))
	assert.True(t, u.HasPassword)
	require.NotEmpty(t, u.PasswordStamp)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasPassword)
	assert.Equal(t, u.PasswordStamp, got.PasswordStamp)

	ok, _, err := store.CheckPassword(ctx, got, "fresh start")
	require.NoError(t, err)
	assert.True(t, ok)

	// Every password write rotates the stamp.
	before := u.PasswordStamp
	require.NoError(t, store.SetPassword(ctx, u, "fresh start again"))
	assert.NotEqual(t, before, u.PasswordStamp)
}

func TestSaveUserRoundTrip(t *testing.T) {
	store := NewStore()
	u := &directory.User{UserName: "frank"}
	require.NoError(t, store.AddUser(u, "pw"))

	ctx := t.Context()
	u.HOTPCounter = 42
	require.NoError(t, store.SaveUser(ctx, u))

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.HOTPCounter)

	// Mutating the returned copy must not leak into the store.
	got.HOTPCounter = 99
	again, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), again.HOTPCounter)

	err = store.SaveUser(ctx, &directory.User{ID: "ghost"})
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestRemoveUser(t *testing.T) {
	store := NewStore()
	u := &directory.User{UserName: "grace", Emails: []string{"grace@example.com"}}
	require.NoError(t, store.AddUser(u, "pw"))

	store.RemoveUser(u.ID)

	_, err := store.GetUser(t.Context(), u.ID)
	assert.ErrorIs(t, err, directory.ErrNotFound)
	_, err = store.GetUserByLogin(t.Context(), "grace@example.com")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}
