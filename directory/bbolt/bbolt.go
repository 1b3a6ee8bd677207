// Package bbolt provides a BBolt-backed directory for single-node
// deployments. Users are stored as JSON records; a login bucket maps
// canonical identifiers to user ids.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/internal/util"
)

var (
	bucketUsers     = []byte("users")
	bucketLogins    = []byte("logins")
	bucketPasswords = []byte("passwords")
)

// Store implements directory.Directory backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ directory.Directory = (*Store)(nil)

// NewStore returns a directory backed by the given BBolt database.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketLogins, bucketPasswords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating directory buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddUser stores a user, indexes its logins and hashes the password when one
// is given.
func (s *Store) AddUser(user *directory.User, password string) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if password != "" {
		user.HasPassword = true
		user.PasswordStamp = uuid.NewString()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putUser(tx, user); err != nil {
			return err
		}
		if password == "" {
			return nil
		}
		hash, err := util.HashPassword(password)
		if err != nil {
			return err
		}
		data, err := json.Marshal(hash)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPasswords).Put([]byte(user.ID), data)
	})
}

func putUser(tx *bbolt.Tx, u *directory.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketUsers).Put([]byte(u.ID), data); err != nil {
		return err
	}
	logins := tx.Bucket(bucketLogins)
	if err := logins.Put([]byte(directory.CanonicalLogin(u.UserName)), []byte(u.ID)); err != nil {
		return err
	}
	for _, email := range u.Emails {
		if err := logins.Put([]byte(directory.CanonicalLogin(email)), []byte(u.ID)); err != nil {
			return err
		}
	}
	return nil
}

func getUser(tx *bbolt.Tx, id string) (*directory.User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return nil, directory.ErrNotFound
	}
	var u directory.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*directory.User, error) {
	var user *directory.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketLogins).Get([]byte(directory.CanonicalLogin(login)))
		if id == nil {
			return directory.ErrNotFound
		}
		u, err := getUser(tx, string(id))
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*directory.User, error) {
	var user *directory.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

func (s *Store) SaveUser(ctx context.Context, user *directory.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(user.ID)) == nil {
			return directory.ErrNotFound
		}
		return putUser(tx, user)
	})
}

func (s *Store) CheckPassword(ctx context.Context, user *directory.User, password string) (bool, string, error) {
	if user.Locked() {
		return false, "Your account has been locked.", nil
	}
	var hash util.PasswordHash
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPasswords).Get([]byte(user.ID))
		if data == nil {
			return directory.ErrNotFound
		}
		return json.Unmarshal(data, &hash)
	})
	if err != nil {
		if err == directory.ErrNotFound {
			return false, "", nil
		}
		return false, "", err
	}
	return hash.Verify(password), "", nil
}

func (s *Store) SetPassword(ctx context.Context, user *directory.User, password string) error {
	hash, err := util.HashPassword(password)
	if err != nil {
		return err
	}
	data, err := json.Marshal(hash)
	if err != nil {
		return err
	}
	// Rotating the stamp kills every outstanding reset link for the account.
	stamp := uuid.NewString()
	user.HasPassword = true
	user.PasswordStamp = stamp
	return s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, user.ID)
		if err != nil {
			return err
		}
		u.HasPassword = true
		u.PasswordStamp = stamp
		if err := putUser(tx, u); err != nil {
			return err
		}
		return tx.Bucket(bucketPasswords).Put([]byte(user.ID), data)
	})
}
