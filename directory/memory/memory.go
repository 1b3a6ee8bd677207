// Package memory provides a thread-safe in-memory implementation of
// directory.Directory. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/internal/util"
)

// Store is an in-memory Directory backed by maps. Passwords are hashed with
// argon2id; lookups go through a login index covering user names and emails.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*directory.User // id → user
	logins    map[string]string          // canonical login → id
	passwords map[string]util.PasswordHash
}

var _ directory.Directory = (*Store)(nil)

// NewStore creates an empty in-memory directory.
func NewStore() *Store {
	return &Store{
		users:     make(map[string]*directory.User),
		logins:    make(map[string]string),
		passwords: make(map[string]util.PasswordHash),
	}
}

// AddUser registers a user and indexes its login identifiers. A non-empty
// password is hashed and stored; an empty password leaves the account in the
// first-login state.
func (s *Store) AddUser(user *directory.User, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if password != "" {
		hash, err := util.HashPassword(password)
		if err != nil {
			return err
		}
		s.passwords[user.ID] = hash
		user.HasPassword = true
		user.PasswordStamp = uuid.NewString()
	}
	u := cloneUser(user)
	s.users[u.ID] = u
	s.indexLocked(u)
	return nil
}

// RemoveUser deletes a user, its login index entries and password material.
func (s *Store) RemoveUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return
	}
	delete(s.logins, directory.CanonicalLogin(u.UserName))
	for _, email := range u.Emails {
		delete(s.logins, directory.CanonicalLogin(email))
	}
	delete(s.users, id)
	delete(s.passwords, id)
}

func (s *Store) indexLocked(u *directory.User) {
	s.logins[directory.CanonicalLogin(u.UserName)] = u.ID
	for _, email := range u.Emails {
		s.logins[directory.CanonicalLogin(email)] = u.ID
	}
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.logins[directory.CanonicalLogin(login)]
	if !ok {
		return nil, directory.ErrNotFound
	}
	u, ok := s.users[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) SaveUser(ctx context.Context, user *directory.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return directory.ErrNotFound
	}
	u := cloneUser(user)
	s.users[u.ID] = u
	s.indexLocked(u)
	return nil
}

func (s *Store) CheckPassword(ctx context.Context, user *directory.User, password string) (bool, string, error) {
	if user.Locked() {
		return false, "Your account has been locked.", nil
	}
	s.mu.RLock()
	hash, ok := s.passwords[user.ID]
	s.mu.RUnlock()
	if !ok {
		return false, "", nil
	}
	return hash.Verify(password), "", nil
}

func (s *Store) SetPassword(ctx context.Context, user *directory.User, password string) error {
	hash, err := util.HashPassword(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user.ID]
	if !ok {
		return directory.ErrNotFound
	}
	s.passwords[user.ID] = hash
	// Rotating the stamp kills every outstanding reset link for the account.
	stamp := uuid.NewString()
	u.HasPassword = true
	u.PasswordStamp = stamp
	user.HasPassword = true
	user.PasswordStamp = stamp
	return nil
}

// cloneUser deep-copies a user so callers never share mutable state with the
// store. JSON round-tripping keeps the copy honest as fields evolve.
func cloneUser(u *directory.User) *directory.User {
	data, _ := json.Marshal(u)
	var cp directory.User
	_ = json.Unmarshal(data, &cp)
	return &cp
}
