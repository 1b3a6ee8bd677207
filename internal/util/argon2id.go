package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams records the cost parameters a hash was derived with, so old
// records keep verifying after the defaults move.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func defaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func (p Argon2idParams) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Parallelism, p.KeyLen)
}

// PasswordHash is the stored argon2id material for one password.
type PasswordHash struct {
	Salt   []byte         `json:"salt"`
	Key    []byte         `json:"key"`
	Params Argon2idParams `json:"params"`
}

// HashPassword derives a fresh salted hash with the current default costs.
func HashPassword(password string) (PasswordHash, error) {
	salt, err := RandomBytes(16)
	if err != nil {
		return PasswordHash{}, fmt.Errorf("generating salt: %w", err)
	}
	params := defaultArgon2idParams()
	return PasswordHash{
		Salt:   salt,
		Key:    params.derive(password, salt),
		Params: params,
	}, nil
}

// Verify compares password against the stored hash in constant time.
func (h PasswordHash) Verify(password string) bool {
	return subtle.ConstantTimeCompare(h.Params.derive(password, h.Salt), h.Key) == 1
}
