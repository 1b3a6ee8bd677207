package captcha

import (
	"encoding/json"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// challengeTTL bounds how long an unanswered challenge stays claimable.
const challengeTTL = 10 * time.Minute

// Store persists pending challenge answers. Get with clear=true consumes the
// token; implementations must make consumption atomic so a token verifies at
// most once.
type Store interface {
	Set(token, answer string) error
	Get(token string, clear bool) (string, bool)
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memoryEntry struct {
	answer  string
	expires time.Time
}

// MemoryStore keeps challenges in a map with lazy expiry sweeps.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Set(token, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for t, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, t)
		}
	}
	m.entries[token] = memoryEntry{answer: answer, expires: now.Add(challengeTTL)}
	return nil
}

func (m *MemoryStore) Get(token string, clear bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return "", false
	}
	if clear {
		delete(m.entries, token)
	}
	if m.now().After(e.expires) {
		delete(m.entries, token)
		return "", false
	}
	return e.answer, true
}

// ---------------------------------------------------------------------------
// BBolt store
// ---------------------------------------------------------------------------

var bucketChallenges = []byte("captcha")

type boltEntry struct {
	Answer  string    `json:"answer"`
	Expires time.Time `json:"expires"`
}

// BoltStore persists challenges in a BBolt bucket so they survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates the challenge bucket if needed.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChallenges)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Set(token, answer string) error {
	data, err := json.Marshal(boltEntry{Answer: answer, Expires: time.Now().Add(challengeTTL)})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChallenges).Put([]byte(token), data)
	})
}

func (b *BoltStore) Get(token string, clear bool) (string, bool) {
	var e boltEntry
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChallenges)
		data := bucket.Get([]byte(token))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return bucket.Delete([]byte(token))
		}
		found = true
		if clear {
			return bucket.Delete([]byte(token))
		}
		return nil
	})
	if err != nil || !found {
		return "", false
	}
	if time.Now().After(e.Expires) {
		if !clear {
			_ = b.db.Update(func(tx *bbolt.Tx) error {
				return tx.Bucket(bucketChallenges).Delete([]byte(token))
			})
		}
		return "", false
	}
	return e.Answer, true
}
