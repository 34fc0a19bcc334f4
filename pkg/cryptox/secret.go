package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrSecretMismatch reports that the presented secret does not match the
// stored hash. Callers must not echo anything beyond this error.
var ErrSecretMismatch = errors.New("cryptox: secret does not match")

// HashSecret derives a PHC-format Argon2id hash of secret, with a fresh
// per-record salt and the process pepper mixed in. Only this string is
// ever stored; the plaintext secret is shown once at issue time.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(
		[]byte(secret+GetPepper()),
		salt,
		iterations,
		memory,
		parallelism,
		keyLength,
	)

	return encodePHC(salt, hash), nil
}

// VerifySecret recomputes the Argon2id hash of secret using the salt and
// parameters embedded in encodedHash and compares in constant time over
// the full hash length. The comparison cost does not depend on where a
// mismatch occurs.
func VerifySecret(secret, encodedHash string) error {
	salt, expected, params, err := decodePHC(encodedHash)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(secret+GetPepper()),
		salt,
		params.iterations,
		params.memory,
		params.parallelism,
		uint32(len(expected)), // #nosec G115 - hash lengths are tiny
	)

	if subtle.ConstantTimeCompare(computed, expected) == 1 {
		return nil
	}
	return ErrSecretMismatch
}

var (
	decoyOnce sync.Once
	decoyHash string
)

// VerifyDecoy burns the same work as a real verification against a fixed
// random hash and always fails. Lookup misses call this so that an
// unknown identifier and a wrong secret are indistinguishable by timing.
func VerifyDecoy(secret string) error {
	decoyOnce.Do(func() {
		var err error
		decoyHash, err = HashSecret(MustGenerateToken(TokenSize256))
		if err != nil {
			panic(fmt.Sprintf("cryptox: failed to build decoy hash: %v", err))
		}
	})

	_ = VerifySecret(secret, decoyHash)
	return ErrSecretMismatch
}

type phcParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}
